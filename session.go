// Package audioswitch decides which audio device carries a call and keeps the
// hardware routed accordingly.
//
// A Session combines a Registry of available devices, the Bluetooth
// HeadsetManager and a Selector. All of its state lives on a single
// eventloop.Loop; the exported methods only queue work onto that loop and are
// safe to call from any goroutine, except Status which reads a copy.
package audioswitch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mil-ad/audioswitch/bluetooth"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/eventloop"
	"github.com/mil-ad/audioswitch/internal/logger"
)

var (
	ErrAlreadyStarted = errors.New("audioswitch: session already started")
	ErrNotStarted     = errors.New("audioswitch: session not started")
	ErrUnavailable    = errors.New("audioswitch: device not available")
	ErrNilListener    = errors.New("audioswitch: nil listener")
)

// maxPasses bounds how often one event may re-trigger selection.
const maxPasses = 8

// Listener receives settled selections. Calls happen on the session's loop;
// implementations must not block.
type Listener interface {
	AvailableDevicesChanged(available []device.Device, selected *device.Device)
	ActivationError()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	DevicesChanged func(available []device.Device, selected *device.Device)
	OnError        func()
}

func (f ListenerFuncs) AvailableDevicesChanged(available []device.Device, selected *device.Device) {
	if f.DevicesChanged != nil {
		f.DevicesChanged(available, selected)
	}
}

func (f ListenerFuncs) ActivationError() {
	if f.OnError != nil {
		f.OnError()
	}
}

// Config holds the session's immutable settings.
type Config struct {
	Order device.Order
}

// Status is a point-in-time copy of the session for observers outside the
// loop.
type Status struct {
	ID           string           `json:"id"`
	Started      bool             `json:"started"`
	Active       bool             `json:"active"`
	HeadsetState bluetooth.State  `json:"headset_state"`
	HeadsetName  string           `json:"headset_name,omitempty"`
	UserSelected *device.Kind     `json:"user_selected,omitempty"`
	Selection    device.Selection `json:"selection"`
}

type Session struct {
	id      uuid.UUID
	loop    eventloop.Loop
	log     *slog.Logger
	order   device.Order
	headset *bluetooth.HeadsetManager

	registry *Registry
	selector *Selector

	// Loop-owned state.
	listener     Listener
	started      bool
	btEnabled    bool
	enforce      bool
	userSelected device.Kind
	reselecting  bool
	dirty        bool
	last         *device.Selection

	// releasePending is set when Deactivate interrupted an activation; a link
	// that comes up afterwards is released.
	releasePending bool

	// requested mirrors started for callers off the loop.
	requested atomic.Bool

	mu      sync.RWMutex
	status  Status
	present []device.Kind
}

// New builds a session. headset may be nil when the platform has no
// Bluetooth.
func New(loop eventloop.Loop, headset *bluetooth.HeadsetManager, cfg Config, log *slog.Logger) (*Session, error) {
	if loop == nil {
		return nil, fmt.Errorf("audioswitch: nil loop")
	}
	order := cfg.Order
	if len(order) == 0 {
		order = device.DefaultOrder()
	}
	order, err := device.NewOrder(order...)
	if err != nil {
		return nil, fmt.Errorf("audioswitch: %w", err)
	}
	id := uuid.New()
	s := &Session{
		id:      id,
		loop:    loop,
		log:     logger.For(log, "session").With("session", id.String()),
		order:   order,
		headset: headset,
	}
	s.registry = NewRegistry(s.reselect)
	s.selector = NewSelector(order, nil, s.log)
	s.status = Status{ID: id.String()}
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

// Order is the completed preferred device order.
func (s *Session) Order() device.Order { return s.order }

// Start registers the listener and begins routing. The first selection is
// delivered once the loop has run.
func (s *Session) Start(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	if !s.requested.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return s.loop.Post(func() { s.start(l) })
}

// Stop releases Bluetooth audio, cancels every pending job and drops the
// listener. No callback is delivered once the queued stop has run.
func (s *Session) Stop() error {
	if !s.requested.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	return s.loop.Post(s.stop)
}

// Activate enforces the selected route. After a Bluetooth activation error
// it retries the headset.
func (s *Session) Activate() error {
	return s.post(s.activate)
}

// Deactivate releases the Bluetooth audio link and stops enforcing routes
// until the next Activate. Selections are still reported.
func (s *Session) Deactivate() error {
	return s.post(s.deactivate)
}

// SelectDevice prefers kind k over the priority order while it stays
// available. A kind that is not currently available is refused with
// ErrUnavailable.
func (s *Session) SelectDevice(k device.Kind) error {
	if !k.Valid() || (s.requested.Load() && !s.available(k)) {
		return fmt.Errorf("audioswitch: select %v: %w", k, ErrUnavailable)
	}
	return s.post(func() { s.selectDevice(k) })
}

// available reports whether k was in the registry at the last publish.
func (s *Session) available(k device.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.present {
		if p == k {
			return true
		}
	}
	return false
}

// WiredHeadsetChanged relays a wired headset plug or unplug.
func (s *Session) WiredHeadsetChanged(plugged bool) error {
	return s.post(func() {
		if plugged {
			s.log.Info("wired headset plugged")
			s.registry.NoteAvailable(device.Wired())
			return
		}
		s.log.Info("wired headset unplugged")
		s.registry.NoteUnavailable(device.WiredHeadset)
	})
}

// BluetoothEvent delivers a headset profile event to the state machine.
func (s *Session) BluetoothEvent(ev bluetooth.Event) error {
	if s.headset == nil {
		return nil
	}
	return s.post(func() {
		s.headset.HandleEvent(ev)
		// Renames and extra headsets leave the state alone but can change
		// the device on offer.
		s.syncHeadset()
		s.reselect()
	})
}

// Status returns the latest published state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Selection.Available = append([]device.Device(nil), st.Selection.Available...)
	return st
}

func (s *Session) post(fn func()) error {
	if !s.requested.Load() {
		return ErrNotStarted
	}
	return s.loop.Post(func() {
		if s.started {
			fn()
		}
	})
}

func (s *Session) start(l Listener) {
	s.listener = l
	s.started = true
	s.enforce = true
	s.userSelected = device.KindUnknown
	s.last = nil
	s.log.Info("session started", "order", s.order.String())

	s.btEnabled = false
	if s.headset != nil {
		if err := s.headset.Start(headsetListener{s}); err != nil {
			s.log.Warn("bluetooth unavailable for this session", "error", err)
		} else {
			s.btEnabled = true
			s.selector.headset = s.headset
		}
	}
	if !s.btEnabled {
		s.selector.headset = noHeadset{}
	}

	s.reselecting = true
	s.registry.open()
	s.syncHeadset()
	s.reselecting = false
	s.reselect()
}

func (s *Session) stop() {
	s.listener = nil
	s.started = false
	if s.btEnabled {
		if s.enforce && s.headset.State() == bluetooth.AudioActivated {
			if err := s.headset.Deactivate(); err != nil {
				s.log.Warn("failed to release bluetooth audio", "error", err)
			}
		}
		s.headset.Stop()
	}
	s.btEnabled = false
	s.releasePending = false
	s.selector.headset = noHeadset{}
	s.selector.reset()
	s.registry.clear()
	s.last = nil
	s.userSelected = device.KindUnknown
	s.log.Info("session stopped")
	s.publishStatus(device.Selection{})
}

func (s *Session) activate() {
	s.enforce = true
	s.releasePending = false
	if s.btEnabled && s.headset.HasActivationError() {
		s.log.Info("retrying bluetooth activation")
		if err := s.headset.Activate(); err != nil {
			s.log.Warn("bluetooth activation retry refused", "error", err)
		}
	}
	s.reselect()
}

func (s *Session) deactivate() {
	s.enforce = false
	if s.btEnabled {
		switch s.headset.State() {
		case bluetooth.AudioActivated:
			s.releaseAudio()
		case bluetooth.AudioActivating:
			s.releasePending = true
			if err := s.headset.CancelActivation(); err != nil {
				s.log.Warn("failed to cancel bluetooth activation", "error", err)
			}
		}
	}
	s.reselect()
}

func (s *Session) releaseAudio() {
	if err := s.headset.Deactivate(); err != nil {
		s.log.Warn("failed to release bluetooth audio", "error", err)
	}
}

func (s *Session) selectDevice(k device.Kind) {
	if !s.registry.Has(k) {
		s.log.Warn("cannot select device", "kind", k, "error", ErrUnavailable)
		return
	}
	s.log.Info("device selected by user", "kind", k)
	s.userSelected = k
	if k == device.BluetoothHeadset && s.enforce && s.btEnabled && s.headset.HasActivationError() {
		if err := s.headset.Activate(); err != nil {
			s.log.Warn("bluetooth activation retry refused", "error", err)
		}
	}
	s.reselect()
}

// syncHeadset mirrors the headset manager into the registry.
func (s *Session) syncHeadset() {
	if !s.btEnabled {
		return
	}
	if d, ok := s.headset.Headset(); ok {
		s.registry.Refresh(d)
		return
	}
	s.registry.NoteUnavailable(device.BluetoothHeadset)
}

// reselect re-runs the selector until a pass completes without triggering
// another change, then publishes the result if it is settled.
func (s *Session) reselect() {
	if !s.started {
		return
	}
	if s.reselecting {
		s.dirty = true
		return
	}
	s.reselecting = true
	defer func() { s.reselecting = false }()

	for pass := 0; pass < maxPasses; pass++ {
		s.dirty = false
		if s.userSelected != device.KindUnknown && !s.registry.Has(s.userSelected) {
			s.log.Debug("user selected device went away", "kind", s.userSelected)
			s.userSelected = device.KindUnknown
		}
		sel, settled := s.selector.Select(s.registry.Snapshot(), s.userSelected, s.enforce)
		if s.dirty {
			continue
		}
		if settled {
			s.publish(sel)
		} else {
			s.log.Debug("waiting for bluetooth audio before publishing selection")
			s.publishStatus(s.lastSelection())
		}
		return
	}
	s.log.Warn("selection did not settle", "passes", maxPasses)
}

func (s *Session) publish(sel device.Selection) {
	s.publishStatus(sel)
	if s.last != nil && s.last.Equal(sel) {
		return
	}
	s.last = &sel
	s.log.Info("audio devices changed", "available", sel.Available, "selected", describe(sel.Selected))
	if s.listener != nil {
		s.listener.AvailableDevicesChanged(sel.Available, sel.Selected)
	}
}

func (s *Session) lastSelection() device.Selection {
	if s.last == nil {
		return device.Selection{}
	}
	return *s.last
}

func (s *Session) publishStatus(sel device.Selection) {
	st := Status{
		ID:           s.id.String(),
		Started:      s.started,
		Active:       s.started && s.enforce,
		HeadsetState: bluetooth.Disconnected,
		Selection:    sel,
	}
	if s.btEnabled {
		st.HeadsetState = s.headset.State()
		st.HeadsetName = s.headset.HeadsetName()
	}
	if s.userSelected != device.KindUnknown {
		k := s.userSelected
		st.UserSelected = &k
	}
	present := make([]device.Kind, 0, len(device.Kinds()))
	for _, d := range s.registry.Snapshot() {
		present = append(present, d.Kind)
	}
	s.mu.Lock()
	s.status = st
	s.present = present
	s.mu.Unlock()
}

// headsetListener keeps the bluetooth callbacks off the Session's exported
// method set.
type headsetListener struct{ s *Session }

func (h headsetListener) HeadsetStateChanged(state bluetooth.State) {
	s := h.s
	switch state {
	case bluetooth.AudioActivated:
		if s.releasePending && !s.enforce {
			s.releasePending = false
			s.log.Info("releasing bluetooth audio that came up after deactivate")
			s.releaseAudio()
		}
	case bluetooth.Disconnected:
		s.releasePending = false
	}
	s.syncHeadset()
	s.reselect()
}

func (h headsetListener) HeadsetActivationError() {
	if h.s.listener != nil {
		h.s.listener.ActivationError()
	}
}
