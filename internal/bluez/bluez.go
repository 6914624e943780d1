// Package bluez connects the headset state machine to BlueZ over the system
// D-Bus: it turns device and transport signals into bluetooth.Events and
// drives the SCO link through org.bluez.MediaTransport1.
package bluez

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/mil-ad/audioswitch/internal/logger"
)

const (
	busName         = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	transportIface  = "org.bluez.MediaTransport1"
	propsIface      = "org.freedesktop.DBus.Properties"
	propsSignal     = propsIface + ".PropertiesChanged"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	ifacesAdded     = objManagerIface + ".InterfacesAdded"
	ifacesRemoved   = objManagerIface + ".InterfacesRemoved"
	dbusIface       = "org.freedesktop.DBus"
	nameOwnerSignal = dbusIface + ".NameOwnerChanged"
)

// managedObjects is the GetManagedObjects reply and InterfacesAdded body.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(string(adapterPath(adapter)) + "/dev_" + escaped)
}

// macFromPath extracts the MAC address from a device path, or from any object
// below one such as a transport ("/org/bluez/hci0/dev_XX/fd0").
func macFromPath(adapter string, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapterPath(adapter)) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	s = s[len(prefix):]
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "_", ":")
}

// Client wraps a system D-Bus connection scoped to one adapter.
type Client struct {
	conn    *dbus.Conn
	adapter string
	log     *slog.Logger

	mu sync.Mutex
	tr *tracker
}

// Open connects to the system bus. BlueZ itself does not have to be running
// yet; Watch reports it coming and going.
func Open(adapter string, log *slog.Logger) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to system bus")
	}
	c := &Client{conn: conn, adapter: adapter, log: logger.For(log, "bluez"), tr: newTracker(adapter)}
	present, err := c.present()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !present {
		c.log.Warn("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// present reports whether BlueZ owns its bus name.
func (c *Client) present() (bool, error) {
	var has bool
	err := c.conn.BusObject().Call(dbusIface+".NameHasOwner", 0, busName).Store(&has)
	if err != nil {
		return false, errors.Wrap(err, "query org.bluez owner")
	}
	return has, nil
}

// --- property helpers ---

func (c *Client) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := c.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, errors.Wrapf(err, "get %s.%s on %s", iface, prop, path)
}

func (c *Client) getString(path dbus.ObjectPath, iface, prop string) (string, error) {
	v, err := c.getProp(path, iface, prop)
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", errors.Errorf("property %s is not a string", prop)
	}
	return s, nil
}

func (c *Client) managedObjects() (managedObjects, error) {
	var objs managedObjects
	obj := c.conn.Object(busName, "/")
	if err := obj.Call(objManagerIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, errors.Wrap(err, "GetManagedObjects")
	}
	return objs, nil
}

// --- variant helpers ---

func variantString(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}

func variantBool(props map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func variantUint32(props map[string]dbus.Variant, key string) (uint32, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	n, ok := v.Value().(uint32)
	return n, ok
}

func variantStrings(props map[string]dbus.Variant, key string) ([]string, bool) {
	v, ok := props[key]
	if !ok {
		return nil, false
	}
	s, ok := v.Value().([]string)
	return s, ok
}

func variantPath(props map[string]dbus.Variant, key string) (dbus.ObjectPath, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	p, ok := v.Value().(dbus.ObjectPath)
	return p, ok
}
