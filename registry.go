package audioswitch

import (
	"github.com/mil-ad/audioswitch/device"
)

// Registry tracks which audio devices are physically available. It holds at
// most one device per kind; the first one observed wins. Every change calls
// onChange so the session can re-run selection.
//
// A Registry belongs to its session's event loop and is not safe for
// concurrent use.
type Registry struct {
	devices  map[device.Kind]device.Device
	onChange func()
}

func NewRegistry(onChange func()) *Registry {
	if onChange == nil {
		onChange = func() {}
	}
	return &Registry{
		devices:  make(map[device.Kind]device.Device),
		onChange: onChange,
	}
}

// builtIn kinds are present for the whole session.
func builtIn(k device.Kind) bool {
	return k == device.Earpiece || k == device.Speakerphone
}

// NoteAvailable adds d unless a device of the same kind is already present.
func (r *Registry) NoteAvailable(d device.Device) bool {
	if !d.Kind.Valid() {
		return false
	}
	if _, ok := r.devices[d.Kind]; ok {
		return false
	}
	r.devices[d.Kind] = d
	r.onChange()
	return true
}

// Refresh adds d, or replaces the device of the same kind when its display
// name differs.
func (r *Registry) Refresh(d device.Device) bool {
	if !d.Kind.Valid() {
		return false
	}
	if cur, ok := r.devices[d.Kind]; ok && cur == d {
		return false
	}
	r.devices[d.Kind] = d
	r.onChange()
	return true
}

// NoteUnavailable removes the device of kind k. Built-in devices cannot be
// removed while the session runs.
func (r *Registry) NoteUnavailable(k device.Kind) bool {
	if builtIn(k) {
		return false
	}
	if _, ok := r.devices[k]; !ok {
		return false
	}
	delete(r.devices, k)
	r.onChange()
	return true
}

// Has reports whether a device of kind k is available.
func (r *Registry) Has(k device.Kind) bool {
	_, ok := r.devices[k]
	return ok
}

// Snapshot returns the available devices in default kind order.
func (r *Registry) Snapshot() []device.Device {
	out := make([]device.Device, 0, len(r.devices))
	for _, k := range device.Kinds() {
		if d, ok := r.devices[k]; ok {
			out = append(out, d)
		}
	}
	return out
}

// open marks the built-in devices available.
func (r *Registry) open() {
	r.NoteAvailable(device.EarpieceDevice())
	r.NoteAvailable(device.SpeakerphoneDevice())
}

// clear forgets everything without notifying.
func (r *Registry) clear() {
	r.devices = make(map[device.Kind]device.Device)
}
