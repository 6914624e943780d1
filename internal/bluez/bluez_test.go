package bluez

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/audioswitch/bluetooth"
)

const (
	hfp  = "0000111e-0000-1000-8000-00805f9b34fb"
	a2dp = "0000110b-0000-1000-8000-00805f9b34fb"
)

var (
	airpodsPath   = deviceObjectPath("hci0", "AA:BB:CC:DD:EE:01")
	airpodsFd     = airpodsPath + "/fd0"
	airpodsA2dpFd = airpodsPath + "/fd1"
	mousePath     = deviceObjectPath("hci0", "AA:BB:CC:DD:EE:09")
)

func props(kv ...any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant)
	for i := 0; i < len(kv); i += 2 {
		out[kv[i].(string)] = dbus.MakeVariant(kv[i+1])
	}
	return out
}

func propsChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propsSignal,
		Body: []interface{}{iface, changed, []string{}},
	}
}

func TestObjectPaths(t *testing.T) {
	p := deviceObjectPath("hci0", "AA:BB:CC:DD:EE:FF")
	if p != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Fatalf("deviceObjectPath = %q", p)
	}
	tests := map[dbus.ObjectPath]string{
		p:                          "AA:BB:CC:DD:EE:FF",
		p + "/fd3":                 "AA:BB:CC:DD:EE:FF",
		"/org/bluez/hci1/dev_AA_BB": "",
		"/org/bluez/hci0":           "",
	}
	for path, want := range tests {
		if got := macFromPath("hci0", path); got != want {
			t.Errorf("macFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestIsHeadset(t *testing.T) {
	tests := []struct {
		name     string
		class    uint32
		hasClass bool
		uuids    []string
		want     bool
	}{
		{"handsfree", 0x200408, true, nil, true},
		{"wearable headset", 0x240404, true, nil, true},
		{"headphones", 0x240418, true, nil, true},
		{"car audio", 0x200420, true, nil, true},
		{"uncategorized", 0x001f00, true, nil, true},
		{"mouse", 0x002580, true, nil, false},
		{"phone with hfp gateway", 0x5a020c, true, []string{"0000111F-0000-1000-8000-00805F9B34FB"}, true},
		{"le headset", 0, false, []string{hfp}, true},
		{"le speaker, media only", 0, false, []string{a2dp}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHeadset(tt.class, tt.hasClass, tt.uuids); got != tt.want {
				t.Fatalf("isHeadset = %v, want %v", got, tt.want)
			}
		})
	}
}

func snapshot() managedObjects {
	return managedObjects{
		adapterPath("hci0"): {"org.bluez.Adapter1": props("Powered", true)},
		airpodsPath: {deviceIface: props(
			"Address", "AA:BB:CC:DD:EE:01", "Alias", "AirPods", "Class", uint32(0x240404),
			"Connected", true, "UUIDs", []string{hfp, a2dp},
		)},
		mousePath: {deviceIface: props(
			"Address", "AA:BB:CC:DD:EE:09", "Alias", "Mouse", "Class", uint32(0x002580), "Connected", true,
		)},
		airpodsFd: {transportIface: props(
			"Device", airpodsPath, "UUID", hfp, "State", "active",
		)},
		airpodsA2dpFd: {transportIface: props(
			"Device", airpodsPath, "UUID", a2dp, "State", "active",
		)},
	}
}

func TestTrackerLoad(t *testing.T) {
	tr := newTracker("hci0")
	events := tr.load(snapshot())
	if len(events) != 2 {
		t.Fatalf("events = %#v, want profile connected and one audio event", events)
	}
	psc, ok := events[0].(bluetooth.ProfileServiceConnected)
	if !ok || len(psc.Headsets) != 1 || psc.Headsets[0].Name != "AirPods" {
		t.Fatalf("first event = %#v", events[0])
	}
	audio, ok := events[1].(bluetooth.AudioStateChanged)
	if !ok || !audio.Active || audio.Headset.Address != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("second event = %#v", events[1])
	}
	if got := tr.voiceTransports(); len(got) != 1 || got[0] != airpodsFd {
		t.Fatalf("voice transports = %v", got)
	}
}

func TestTrackerConnectionChanges(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(managedObjects{
		airpodsPath: {deviceIface: props("Alias", "AirPods", "Class", uint32(0x240404), "Connected", false)},
	})

	events, _ := tr.handle(propsChanged(airpodsPath, deviceIface, props("Connected", true)))
	want := bluetooth.ConnectionStateChanged{
		Headset:   bluetooth.Headset{Address: "AA:BB:CC:DD:EE:01", Name: "AirPods"},
		Connected: true,
	}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("events = %#v", events)
	}

	// A repeated property carries no news.
	if events, _ := tr.handle(propsChanged(airpodsPath, deviceIface, props("Connected", true))); len(events) != 0 {
		t.Fatalf("duplicate connect produced %#v", events)
	}

	events, _ = tr.handle(propsChanged(airpodsPath, deviceIface, props("Alias", "Pods")))
	if len(events) != 1 || events[0].(bluetooth.ConnectionStateChanged).Headset.Name != "Pods" {
		t.Fatalf("rename events = %#v", events)
	}

	events, _ = tr.handle(propsChanged(airpodsPath, deviceIface, props("Connected", false)))
	if len(events) != 1 || events[0].(bluetooth.ConnectionStateChanged).Connected {
		t.Fatalf("disconnect events = %#v", events)
	}
}

func TestTrackerIgnoresNonHeadsets(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(nil)
	events, _ := tr.handle(&dbus.Signal{
		Name: ifacesAdded,
		Body: []interface{}{mousePath, map[string]map[string]dbus.Variant{
			deviceIface: props("Class", uint32(0x002580), "Connected", true),
		}},
	})
	if len(events) != 0 {
		t.Fatalf("mouse produced %#v", events)
	}
	other := dbus.ObjectPath("/org/bluez/hci1/dev_AA_BB_CC_DD_EE_01")
	if events, _ := tr.handle(propsChanged(other, deviceIface, props("Connected", true))); len(events) != 0 {
		t.Fatalf("other adapter produced %#v", events)
	}
}

func TestTrackerAudioTransport(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(managedObjects{
		airpodsPath: {deviceIface: props("Alias", "AirPods", "UUIDs", []string{hfp}, "Connected", true)},
	})

	added := &dbus.Signal{
		Name: ifacesAdded,
		Body: []interface{}{airpodsFd, map[string]map[string]dbus.Variant{
			transportIface: props("Device", airpodsPath, "UUID", hfp, "State", "idle"),
		}},
	}
	if events, _ := tr.handle(added); len(events) != 0 {
		t.Fatalf("idle transport produced %#v", events)
	}

	events, _ := tr.handle(propsChanged(airpodsFd, transportIface, props("State", "active")))
	if len(events) != 1 || !events[0].(bluetooth.AudioStateChanged).Active {
		t.Fatalf("active events = %#v", events)
	}

	removed := &dbus.Signal{
		Name: ifacesRemoved,
		Body: []interface{}{airpodsFd, []string{transportIface}},
	}
	events, _ = tr.handle(removed)
	if len(events) != 1 || events[0].(bluetooth.AudioStateChanged).Active {
		t.Fatalf("removal events = %#v", events)
	}
}

func TestTrackerTransportWithoutDeviceProperty(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(managedObjects{
		airpodsPath: {deviceIface: props("Alias", "AirPods", "UUIDs", []string{hfp}, "Connected", true)},
	})

	events, _ := tr.handle(propsChanged(airpodsFd, transportIface, props("UUID", hfp, "State", "active")))
	if len(events) != 1 {
		t.Fatalf("events = %#v", events)
	}
	ev := events[0].(bluetooth.AudioStateChanged)
	if !ev.Active || ev.Headset.Address != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("event = %#v", ev)
	}
	if got := tr.voiceTransports(); len(got) != 1 || got[0] != airpodsFd {
		t.Fatalf("voice transports = %v", got)
	}
}

func TestTrackerDeviceRemoved(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(snapshot())
	events, _ := tr.handle(&dbus.Signal{
		Name: ifacesRemoved,
		Body: []interface{}{airpodsPath, []string{deviceIface}},
	})
	if len(events) != 1 || events[0].(bluetooth.ConnectionStateChanged).Connected {
		t.Fatalf("events = %#v", events)
	}
}

func TestTrackerBluezRestart(t *testing.T) {
	tr := newTracker("hci0")
	tr.load(snapshot())

	gone := &dbus.Signal{Name: nameOwnerSignal, Body: []interface{}{busName, ":1.5", ""}}
	events, reload := tr.handle(gone)
	if reload || len(events) != 1 {
		t.Fatalf("events = %#v reload = %v", events, reload)
	}
	if _, ok := events[0].(bluetooth.ProfileServiceDisconnected); !ok {
		t.Fatalf("event = %#v", events[0])
	}
	if len(tr.devices) != 0 {
		t.Fatal("devices kept after bluez left")
	}

	back := &dbus.Signal{Name: nameOwnerSignal, Body: []interface{}{busName, "", ":1.9"}}
	if _, reload := tr.handle(back); !reload {
		t.Fatal("no reload requested when bluez came back")
	}
	other := &dbus.Signal{Name: nameOwnerSignal, Body: []interface{}{"org.example", "", ":1.9"}}
	if events, reload := tr.handle(other); reload || len(events) != 0 {
		t.Fatal("unrelated name owner change handled")
	}
}

func TestSystemBusSocket(t *testing.T) {
	tests := map[string]string{
		"":                                     defaultSystemBusSocket,
		"unix:path=/run/dbus/system_bus_socket": "/run/dbus/system_bus_socket",
		"tcp:host=x;unix:abstract=y,path=/tmp/s": "/tmp/s",
		"unix:abstract=/tmp/dbus-x":             defaultSystemBusSocket,
	}
	for addr, want := range tests {
		if got := systemBusSocket(addr); got != want {
			t.Errorf("systemBusSocket(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestPermission(t *testing.T) {
	var gotMode uint32
	p := Permission{socket: "/s", access: func(path string, mode uint32) error {
		gotMode = mode
		if path != "/s" {
			t.Fatalf("path = %q", path)
		}
		return nil
	}}
	if !p.Granted() || gotMode != unix.R_OK|unix.W_OK {
		t.Fatalf("granted with mode %o", gotMode)
	}
	p.access = func(string, uint32) error { return errors.New("denied") }
	if p.Granted() {
		t.Fatal("granted after access failure")
	}
}
