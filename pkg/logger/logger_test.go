package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugSuppressedUntilEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetDebug(false)
	SetOutput(&buf)
	defer SetDebug(false)

	Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetDebug(true)
	Debug("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.True(t, DebugEnabled())
}

func TestInfoAndErrorLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Infof("hello %s", "world")
	Errorf("broken %s", "pipe")

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, "broken pipe")
}
