package lookup

import (
	"math"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixFromProps(t *testing.T) {
	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	props := map[string]dbus.Variant{
		"Latitude":  dbus.MakeVariant(41.3275),
		"Longitude": dbus.MakeVariant(19.8189),
		"Accuracy":  dbus.MakeVariant(12.4),
		"Altitude":  dbus.MakeVariant(110.0),
	}

	p, ok := fixFromProps(props, at)
	require.True(t, ok)
	assert.Equal(t, 41.3275, p.Lat)
	assert.Equal(t, 19.8189, p.Lon)
	require.NotNil(t, p.Elevation)
	assert.Equal(t, 110.0, *p.Elevation)
	assert.Equal(t, "accuracy 12 m", p.Description)
	assert.True(t, p.Time.Equal(at))
}

func TestFixFromProps_Rejects(t *testing.T) {
	_, ok := fixFromProps(map[string]dbus.Variant{
		"Latitude":  dbus.MakeVariant(0.0),
		"Longitude": dbus.MakeVariant(0.0),
	}, time.Now())
	assert.False(t, ok, "(0,0) is not a fix")

	_, ok = fixFromProps(map[string]dbus.Variant{"Latitude": dbus.MakeVariant(41.0)}, time.Now())
	assert.False(t, ok)

	_, ok = fixFromProps(map[string]dbus.Variant{
		"Latitude":  dbus.MakeVariant("41"),
		"Longitude": dbus.MakeVariant(19.8),
	}, time.Now())
	assert.False(t, ok)
}

func TestFixFromProps_UnknownAltitude(t *testing.T) {
	p, ok := fixFromProps(map[string]dbus.Variant{
		"Latitude":  dbus.MakeVariant(41.3),
		"Longitude": dbus.MakeVariant(19.8),
		"Altitude":  dbus.MakeVariant(-math.MaxFloat64),
	}, time.Now())
	require.True(t, ok)
	assert.Nil(t, p.Elevation)
}

func TestLocationFromSignal(t *testing.T) {
	client := dbus.ObjectPath("/org/freedesktop/GeoClue2/Client/1")
	sig := &dbus.Signal{
		Path: client,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{
			clientIface,
			map[string]dbus.Variant{"Location": dbus.MakeVariant(dbus.ObjectPath("/org/freedesktop/GeoClue2/Client/1/Location/0"))},
			[]string{},
		},
	}

	lp, ok := locationFromSignal(sig, client)
	require.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/GeoClue2/Client/1/Location/0"), lp)

	_, ok = locationFromSignal(sig, "/org/freedesktop/GeoClue2/Client/2")
	assert.False(t, ok, "other clients are ignored")

	sig.Body[1] = map[string]dbus.Variant{"Active": dbus.MakeVariant(true)}
	_, ok = locationFromSignal(sig, client)
	assert.False(t, ok)
}
