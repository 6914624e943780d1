package bluez

import (
	"sort"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/audioswitch/bluetooth"
)

type deviceInfo struct {
	addr      string
	name      string
	class     uint32
	hasClass  bool
	uuids     []string
	connected bool

	// announced is set once a connected event went out for this device.
	announced bool
}

func (d *deviceInfo) headset() bluetooth.Headset {
	return bluetooth.Headset{Address: d.addr, Name: d.name}
}

func (d *deviceInfo) isHeadset() bool { return isHeadset(d.class, d.hasClass, d.uuids) }

func (d *deviceInfo) apply(props map[string]dbus.Variant) {
	if s, ok := variantString(props, "Address"); ok {
		d.addr = s
	}
	if s, ok := variantString(props, "Alias"); ok && s != "" {
		d.name = s
	} else if s, ok := variantString(props, "Name"); ok && s != "" && d.name == "" {
		d.name = s
	}
	if n, ok := variantUint32(props, "Class"); ok {
		d.class, d.hasClass = n, true
	}
	if u, ok := variantStrings(props, "UUIDs"); ok {
		d.uuids = u
	}
	if b, ok := variantBool(props, "Connected"); ok {
		d.connected = b
	}
}

type transportInfo struct {
	device dbus.ObjectPath
	voice  bool
	active bool
}

func (t *transportInfo) apply(props map[string]dbus.Variant) {
	if p, ok := variantPath(props, "Device"); ok {
		t.device = p
	}
	if u, ok := variantString(props, "UUID"); ok {
		t.voice = isVoiceProfile(u)
	}
	if s, ok := variantString(props, "State"); ok {
		t.active = s == "active"
	}
}

// tracker mirrors the BlueZ objects of one adapter and turns changes into
// headset events. It is owned by the Watch goroutine.
type tracker struct {
	adapter    string
	devices    map[dbus.ObjectPath]*deviceInfo
	transports map[dbus.ObjectPath]*transportInfo
}

func newTracker(adapter string) *tracker {
	t := &tracker{adapter: adapter}
	t.reset()
	return t
}

func (t *tracker) reset() {
	t.devices = make(map[dbus.ObjectPath]*deviceInfo)
	t.transports = make(map[dbus.ObjectPath]*transportInfo)
}

// newTransport assumes the transport belongs to the device it is nested
// under until a Device property says otherwise.
func (t *tracker) newTransport(path dbus.ObjectPath) *transportInfo {
	return &transportInfo{device: deviceObjectPath(t.adapter, macFromPath(t.adapter, path))}
}

func (t *tracker) ours(path dbus.ObjectPath) bool { return macFromPath(t.adapter, path) != "" }

// load replaces the mirror with a GetManagedObjects snapshot. It yields a
// ProfileServiceConnected with the connected headsets, followed by any audio
// link already up.
func (t *tracker) load(objs managedObjects) []bluetooth.Event {
	t.reset()
	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var headsets []bluetooth.Headset
	for _, p := range paths {
		path := dbus.ObjectPath(p)
		if !t.ours(path) {
			continue
		}
		ifaces := objs[path]
		if props, ok := ifaces[deviceIface]; ok {
			d := &deviceInfo{addr: macFromPath(t.adapter, path)}
			d.apply(props)
			t.devices[path] = d
			if d.connected && d.isHeadset() {
				d.announced = true
				headsets = append(headsets, d.headset())
			}
		}
		if props, ok := ifaces[transportIface]; ok {
			tr := t.newTransport(path)
			tr.apply(props)
			t.transports[path] = tr
		}
	}

	events := []bluetooth.Event{bluetooth.ProfileServiceConnected{Headsets: headsets}}
	for _, p := range sortedPaths(t.transports) {
		if ev, ok := t.audioEvent(t.transports[p]); ok {
			events = append(events, ev)
		}
	}
	return events
}

// handle translates one signal. reload is set when BlueZ came back and the
// caller should fetch a fresh snapshot.
func (t *tracker) handle(sig *dbus.Signal) (events []bluetooth.Event, reload bool) {
	switch sig.Name {
	case propsSignal:
		if len(sig.Body) < 2 || !t.ours(sig.Path) {
			return nil, false
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		if changed == nil {
			return nil, false
		}
		switch iface {
		case deviceIface:
			return t.deviceChanged(sig.Path, changed), false
		case transportIface:
			return t.transportChanged(sig.Path, changed), false
		}

	case ifacesAdded:
		if len(sig.Body) < 2 {
			return nil, false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if ifaces == nil || !t.ours(path) {
			return nil, false
		}
		if props, ok := ifaces[deviceIface]; ok {
			if _, known := t.devices[path]; !known {
				t.devices[path] = &deviceInfo{addr: macFromPath(t.adapter, path)}
			}
			events = append(events, t.deviceChanged(path, props)...)
		}
		if props, ok := ifaces[transportIface]; ok {
			if _, known := t.transports[path]; !known {
				t.transports[path] = t.newTransport(path)
			}
			events = append(events, t.transportChanged(path, props)...)
		}
		return events, false

	case ifacesRemoved:
		if len(sig.Body) < 2 {
			return nil, false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		names, _ := sig.Body[1].([]string)
		for _, name := range names {
			switch name {
			case transportIface:
				if tr, ok := t.transports[path]; ok {
					delete(t.transports, path)
					if tr.active {
						tr.active = false
						if ev, ok := t.audioEvent(tr); ok {
							events = append(events, ev)
						}
					}
				}
			case deviceIface:
				if d, ok := t.devices[path]; ok {
					delete(t.devices, path)
					if d.announced {
						events = append(events, bluetooth.ConnectionStateChanged{Headset: d.headset()})
					}
				}
			}
		}
		return events, false

	case nameOwnerSignal:
		if len(sig.Body) < 3 {
			return nil, false
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if name != busName {
			return nil, false
		}
		if newOwner == "" {
			t.reset()
			return []bluetooth.Event{bluetooth.ProfileServiceDisconnected{}}, false
		}
		return nil, true
	}
	return nil, false
}

func (t *tracker) deviceChanged(path dbus.ObjectPath, props map[string]dbus.Variant) []bluetooth.Event {
	d, ok := t.devices[path]
	if !ok {
		d = &deviceInfo{addr: macFromPath(t.adapter, path)}
		t.devices[path] = d
	}
	oldName := d.name
	d.apply(props)

	want := d.connected && d.isHeadset()
	switch {
	case want && !d.announced:
		d.announced = true
		return []bluetooth.Event{bluetooth.ConnectionStateChanged{Headset: d.headset(), Connected: true}}
	case !want && d.announced:
		d.announced = false
		return []bluetooth.Event{bluetooth.ConnectionStateChanged{Headset: d.headset()}}
	case want && d.name != oldName:
		// Re-announcing carries the new display name.
		return []bluetooth.Event{bluetooth.ConnectionStateChanged{Headset: d.headset(), Connected: true}}
	}
	return nil
}

func (t *tracker) transportChanged(path dbus.ObjectPath, props map[string]dbus.Variant) []bluetooth.Event {
	tr, ok := t.transports[path]
	if !ok {
		tr = t.newTransport(path)
		t.transports[path] = tr
	}
	wasActive := tr.active
	tr.apply(props)
	if tr.active == wasActive {
		return nil
	}
	if ev, ok := t.audioEvent(tr); ok {
		return []bluetooth.Event{ev}
	}
	return nil
}

// audioEvent reports a voice transport's link state for an announced
// headset.
func (t *tracker) audioEvent(tr *transportInfo) (bluetooth.Event, bool) {
	if !tr.voice {
		return nil, false
	}
	d, ok := t.devices[tr.device]
	if !ok || !d.announced {
		return nil, false
	}
	return bluetooth.AudioStateChanged{Headset: d.headset(), Active: tr.active}, true
}

// voiceTransports lists the voice transports of announced headsets.
func (t *tracker) voiceTransports() []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for _, p := range sortedPaths(t.transports) {
		tr := t.transports[p]
		if d, ok := t.devices[tr.device]; ok && tr.voice && d.announced {
			out = append(out, p)
		}
	}
	return out
}

func sortedPaths[V any](m map[dbus.ObjectPath]V) []dbus.ObjectPath {
	out := make([]dbus.ObjectPath, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
