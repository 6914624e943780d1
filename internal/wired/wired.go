// Package wired reports wired (USB) headsets plugging in and out, as seen by
// udev in the sound subsystem.
package wired

import (
	"errors"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("wired: udev monitoring not available in this build")

// Notify receives the aggregate state: true while at least one headset is
// present.
type Notify func(plugged bool)

// device is the part of a udev device the presence tracker reads.
type device interface {
	Syspath() string
	Action() string
	Properties() map[string]string
}

// isHeadset matches sound cards whose form factor is a headset or headphones.
func isHeadset(props map[string]string) bool {
	switch strings.ToLower(props["SOUND_FORM_FACTOR"]) {
	case "headset", "headphone", "headphones":
		return true
	}
	return false
}

// presence folds udev add/remove events into a single plugged state.
type presence struct {
	present map[string]bool
}

func newPresence() *presence {
	return &presence{present: make(map[string]bool)}
}

func (p *presence) plugged() bool { return len(p.present) > 0 }

// observe applies one device and reports whether the aggregate state flipped.
// Devices from an enumeration carry no action and count as present.
func (p *presence) observe(d device) (changed bool) {
	before := p.plugged()
	path := d.Syspath()
	switch d.Action() {
	case "remove":
		delete(p.present, path)
	case "", "add", "change", "bind":
		if isHeadset(d.Properties()) {
			p.present[path] = true
		} else {
			delete(p.present, path)
		}
	}
	return p.plugged() != before
}

// paths lists present headsets, for logging.
func (p *presence) paths() []string {
	out := make([]string, 0, len(p.present))
	for path := range p.present {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
