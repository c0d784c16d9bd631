package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/geolocator/pkg/config"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	for _, k := range []string{"GEOLOCATOR_DATA_DIR", "GEOLOCATOR_DB", "GEOLOCATOR_CACHE_DIR", "POSTGIS_HOST", "POSTGIS_PORT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(dir)
	return dir
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := isolateEnv(t)
	data := filepath.Join(dir, "elsewhere")

	cfg, err := loadConfig(&Options{
		DataDir:   data,
		Nominatim: "https://nominatim.example.org",
		Remote:    RemoteOptions{Host: "db.local", Port: 5433, Database: "geo", User: "geo"},
	})
	require.NoError(t, err)
	assert.Equal(t, data, cfg.DataDir)
	assert.Equal(t, filepath.Join(data, config.DefaultDBName), cfg.DBPath)
	assert.Equal(t, "https://nominatim.example.org", cfg.NominatimServer)
	assert.True(t, cfg.Remote.Configured())
	assert.Equal(t, 5433, cfg.Remote.Port)
}

func TestLoadConfig_ExplicitDB(t *testing.T) {
	dir := isolateEnv(t)
	db := filepath.Join(dir, "my.sqlite")

	cfg, err := loadConfig(&Options{DataDir: filepath.Join(dir, "d"), DB: db})
	require.NoError(t, err)
	assert.Equal(t, db, cfg.DBPath)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	isolateEnv(t)
	_, err := loadConfig(&Options{Remote: RemoteOptions{Port: 70000}})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestDistanceCommand(t *testing.T) {
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	c := &distanceCommand{}
	c.Args.From, c.Args.To = "0,0", "0,1"
	require.NoError(t, c.Execute(nil))
	assert.Equal(t, "111194.9 m (111.195 km), bearing 90.0° E\n", buf.String())

	c.Args.To = "0,200"
	assert.Error(t, c.Execute(nil))
}

func TestUTMCommand(t *testing.T) {
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	c := &utmCommand{}
	c.Args.Point = "-33.8688,151.2093"
	require.NoError(t, c.Execute(nil))
	assert.Contains(t, buf.String(), "UTM Zone 56S (EPSG:32756)")
}
