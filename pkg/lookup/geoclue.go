package lookup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

/*
GeoClue2 position source.

GeoClue only hands out locations to clients whose DesktopId matches a
.desktop file carrying X-Geoclue-2-Client=true, so Current writes a minimal
one into ~/.local/share/applications when it is missing. Each call creates a
client on the system bus, starts it, and waits for the first usable fix
either from the Location property or from a PropertiesChanged signal.
*/

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"

	DefaultDesktopID = "geolocator.desktop"

	requestedAccuracy = uint32(5)  // exact
	distanceThreshold = uint32(25) // meters
	timeThreshold     = uint32(5)  // seconds
)

// ErrNoFix is returned when no usable fix arrived before the deadline.
var ErrNoFix = errors.New("no position fix")

// GeoClue reads the device position from GeoClue2.
type GeoClue struct {
	DesktopID string
	// Wait bounds the wait for a first fix when ctx has no deadline.
	Wait time.Duration
}

// NewGeoClue returns a position source registered as desktopID.
func NewGeoClue(desktopID string) *GeoClue {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	return &GeoClue{DesktopID: desktopID, Wait: 15 * time.Second}
}

// Current waits for the first fix.
func (g *GeoClue) Current(ctx context.Context) (geo.GeoPoint, error) {
	if _, ok := ctx.Deadline(); !ok && g.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Wait)
		defer cancel()
	}
	if err := ensureDesktopFile(g.DesktopID); err != nil {
		logger.Debug("geoclue: desktop file: %v", err)
	}

	cl, err := newGeoClueClient(g.DesktopID)
	if err != nil {
		return geo.GeoPoint{}, fmt.Errorf("geoclue: %w", err)
	}
	defer cl.close()

	// Subscribe before Start so the first PropertiesChanged is not missed.
	sigCh, err := cl.subscribe()
	if err != nil {
		return geo.GeoPoint{}, fmt.Errorf("geoclue: %w", err)
	}
	if call := cl.obj().Call(clientIface+".Start", 0); call.Err != nil {
		return geo.GeoPoint{}, fmt.Errorf("geoclue start: %w", call.Err)
	}

	if p, ok := cl.currentFix(); ok {
		return p, nil
	}
	for {
		select {
		case <-ctx.Done():
			return geo.GeoPoint{}, fmt.Errorf("%w: %v", ErrNoFix, ctx.Err())
		case sig, ok := <-sigCh:
			if !ok || sig == nil {
				return geo.GeoPoint{}, errors.New("geoclue: dbus signal channel closed")
			}
			lp, ok := locationFromSignal(sig, cl.path)
			if !ok {
				continue
			}
			if p, ok := cl.readFix(lp); ok {
				return p, nil
			}
		}
	}
}

func ensureDesktopFile(desktopID string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	appsDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	content := `[Desktop Entry]
Type=Application
Name=GeoLocator
Comment=Geolocation toolkit (GeoClue client)
Exec=geolocator
Terminal=true
Categories=Utility;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`
	return os.WriteFile(dest, []byte(content), 0o644)
}

type geoClient struct {
	path dbus.ObjectPath
	bus  *dbus.Conn
}

func newGeoClueClient(desktopID string) (*geoClient, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	var clientPath dbus.ObjectPath
	call := bus.Object(geoService, managerPath).Call(managerIface+".CreateClient", 0)
	if call.Err != nil {
		bus.Close()
		return nil, call.Err
	}
	if err := call.Store(&clientPath); err != nil {
		bus.Close()
		return nil, err
	}
	c := &geoClient{path: clientPath, bus: bus}

	setProp := func(name string, val interface{}) error {
		return c.obj().Call(propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := setProp("DesktopId", desktopID); err != nil {
		c.close()
		return nil, fmt.Errorf("set DesktopId: %w", err)
	}
	if err := setProp("RequestedAccuracyLevel", requestedAccuracy); err != nil {
		c.close()
		return nil, fmt.Errorf("set accuracy: %w", err)
	}
	_ = setProp("DistanceThreshold", distanceThreshold)
	_ = setProp("TimeThreshold", timeThreshold)
	return c, nil
}

func (c *geoClient) obj() dbus.BusObject {
	return c.bus.Object(geoService, c.path)
}

func (c *geoClient) close() {
	_ = c.obj().Call(clientIface+".Stop", 0)
	c.bus.Close()
}

func (c *geoClient) subscribe() (chan *dbus.Signal, error) {
	rule := fmt.Sprintf("type='signal',interface='%s',path='%s'", propsIface, c.path)
	if call := c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return nil, call.Err
	}
	ch := make(chan *dbus.Signal, 10)
	c.bus.Signal(ch)
	return ch, nil
}

func (c *geoClient) currentFix() (geo.GeoPoint, bool) {
	var variant dbus.Variant
	call := c.obj().Call(propsIface+".Get", 0, clientIface, "Location")
	if call.Err != nil || call.Store(&variant) != nil {
		return geo.GeoPoint{}, false
	}
	lp, _ := variant.Value().(dbus.ObjectPath)
	if lp == "" || lp == "/" {
		return geo.GeoPoint{}, false
	}
	return c.readFix(lp)
}

func (c *geoClient) readFix(lp dbus.ObjectPath) (geo.GeoPoint, bool) {
	var props map[string]dbus.Variant
	call := c.bus.Object(geoService, lp).Call(propsIface+".GetAll", 0, locationIface)
	if call.Err != nil || call.Store(&props) != nil {
		return geo.GeoPoint{}, false
	}
	return fixFromProps(props, time.Now().UTC())
}

// locationFromSignal extracts the new Location path from a client's
// PropertiesChanged signal.
func locationFromSignal(sig *dbus.Signal, client dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != client || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	lp, ok := v.Value().(dbus.ObjectPath)
	return lp, ok && lp != "" && lp != "/"
}

// fixFromProps turns a GeoClue Location property map into a point. A (0,0)
// fix is treated as no fix. GeoClue reports an unknown altitude as -DBL_MAX.
func fixFromProps(props map[string]dbus.Variant, at time.Time) (geo.GeoPoint, bool) {
	getF64 := func(key string) (float64, bool) {
		if v, ok := props[key]; ok {
			if f, ok2 := v.Value().(float64); ok2 {
				return f, true
			}
		}
		return 0, false
	}

	lat, okLat := getF64("Latitude")
	lon, okLon := getF64("Longitude")
	if !okLat || !okLon || (lat == 0 && lon == 0) {
		return geo.GeoPoint{}, false
	}
	p, err := geo.NewPoint(lat, lon)
	if err != nil {
		return geo.GeoPoint{}, false
	}
	p.Name = "Current position"
	p.Time = at
	if acc, ok := getF64("Accuracy"); ok && acc > 0 {
		p.Description = fmt.Sprintf("accuracy %.0f m", acc)
	}
	if alt, ok := getF64("Altitude"); ok && alt > -1e6 && !math.IsNaN(alt) {
		p = p.WithElevation(alt)
	}
	return p, true
}
