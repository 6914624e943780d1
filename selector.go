package audioswitch

import (
	"log/slog"

	"github.com/mil-ad/audioswitch/bluetooth"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/logger"
)

// headsetControl is the part of the headset state machine the selector uses.
type headsetControl interface {
	State() bluetooth.State
	HasActivationError() bool
	Activate() error
	Deactivate() error
}

// noHeadset stands in when the platform has no Bluetooth.
type noHeadset struct{}

func (noHeadset) State() bluetooth.State   { return bluetooth.Disconnected }
func (noHeadset) HasActivationError() bool { return false }
func (noHeadset) Activate() error          { return bluetooth.ErrPermissionDenied }
func (noHeadset) Deactivate() error        { return bluetooth.ErrPermissionDenied }

// Selector picks the device that should carry audio and drives the headset to
// match. Bluetooth is only reported as selected once its audio link is up.
type Selector struct {
	order   device.Order
	headset headsetControl
	log     *slog.Logger

	selected *device.Device
}

func NewSelector(order device.Order, headset headsetControl, log *slog.Logger) *Selector {
	if headset == nil {
		headset = noHeadset{}
	}
	return &Selector{order: order, headset: headset, log: logger.For(log, "selector")}
}

// Select computes the selection for the given snapshot. user is the kind the
// user picked, or device.KindUnknown. When enforce is false no hardware
// commands are issued and Bluetooth is reported as selected right away.
//
// settled is false while a Bluetooth activation is still in flight; the
// returned selection must not be published in that case.
func (s *Selector) Select(snapshot []device.Device, user device.Kind, enforce bool) (sel device.Selection, settled bool) {
	available := make([]device.Device, 0, len(snapshot))
	btError := s.headset.HasActivationError()
	for _, d := range snapshot {
		if d.Kind == device.BluetoothHeadset && btError {
			continue
		}
		available = append(available, d)
	}
	s.order.Sort(available)
	sel.Available = available

	candidates := s.candidates(available, user)
	for _, c := range candidates {
		if enforce && c.Kind != device.BluetoothHeadset && s.headset.State() == bluetooth.AudioActivated {
			if err := s.headset.Deactivate(); err != nil {
				s.log.Warn("failed to release bluetooth audio", "error", err)
			}
		}
		if c.Kind != device.BluetoothHeadset || !enforce {
			return s.commit(sel, &c), true
		}
		switch s.headset.State() {
		case bluetooth.AudioActivated:
			return s.commit(sel, &c), true
		case bluetooth.AudioActivating:
			return sel, false
		case bluetooth.Connected, bluetooth.AudioActivationError:
			if err := s.headset.Activate(); err != nil {
				s.log.Warn("bluetooth activation refused, falling back", "error", err)
				continue
			}
			return sel, false
		default:
			s.log.Debug("bluetooth headset listed but not connected", "state", s.headset.State())
		}
	}
	return s.commit(sel, nil), true
}

// candidates lists devices in the order they should be tried: the user's
// pick first when it is available, then by priority.
func (s *Selector) candidates(available []device.Device, user device.Kind) []device.Device {
	out := make([]device.Device, 0, len(available))
	for _, d := range available {
		if d.Kind == user {
			out = append(out, d)
		}
	}
	for _, d := range available {
		if d.Kind != user {
			out = append(out, d)
		}
	}
	return out
}

func (s *Selector) commit(sel device.Selection, d *device.Device) device.Selection {
	if d != nil {
		chosen := *d
		sel.Selected = &chosen
	}
	if !sameDevice(s.selected, sel.Selected) {
		s.log.Debug("selected device changed", "from", describe(s.selected), "to", describe(sel.Selected))
	}
	s.selected = sel.Selected
	return sel
}

func (s *Selector) reset() { s.selected = nil }

func sameDevice(a, b *device.Device) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func describe(d *device.Device) string {
	if d == nil {
		return "none"
	}
	return d.String()
}
