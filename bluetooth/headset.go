// Package bluetooth tracks Bluetooth headset connectivity and drives the SCO
// audio link through it.
//
// HeadsetManager is a state machine fed by platform events (see Event). It is
// not safe for concurrent use: every method, and every event, must be
// delivered from the eventloop.Loop it was built with.
package bluetooth

import (
	"log/slog"
	"time"

	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/eventloop"
	"github.com/mil-ad/audioswitch/internal/logger"
)

// Config tunes the SCO jobs. Zero values fall back to the defaults.
type Config struct {
	RetryInterval time.Duration
	Timeout       time.Duration
}

type trackedHeadset struct {
	Headset
	audio bool
}

// HeadsetManager owns the headset State.
type HeadsetManager struct {
	loop eventloop.Loop
	log  *slog.Logger
	sco  ScoController
	perm Permission

	listener Listener
	started  bool
	state    State

	// Connected headsets in the order they were first seen.
	headsets []*trackedHeadset

	enableJob  *Job
	disableJob *Job
}

func NewHeadsetManager(loop eventloop.Loop, sco ScoController, perm Permission, cfg Config, log *slog.Logger) *HeadsetManager {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if perm == nil {
		perm = AlwaysGranted
	}
	m := &HeadsetManager{
		loop:  loop,
		log:   logger.For(log, "bluetooth"),
		sco:   sco,
		perm:  perm,
		state: Disconnected,
	}
	m.enableJob = newJob(Enable, loop, m.log, cfg.RetryInterval, cfg.Timeout, m.enableSco, m.enableTimedOut)
	m.disableJob = newJob(Disable, loop, m.log, cfg.RetryInterval, cfg.Timeout, m.disableSco, m.disableTimedOut)
	return m
}

// Start registers the listener and begins accepting events.
func (m *HeadsetManager) Start(l Listener) error {
	if !m.perm.Granted() {
		m.log.Warn("bluetooth unsupported, permissions not granted")
		return ErrPermissionDenied
	}
	m.listener = l
	m.started = true
	m.log.Info("headset manager started")
	return nil
}

// Stop cancels both jobs, forgets all headsets and drops the listener. Events
// delivered afterwards are ignored.
func (m *HeadsetManager) Stop() {
	m.listener = nil
	m.started = false
	m.enableJob.Cancel()
	m.disableJob.Cancel()
	m.headsets = nil
	m.state = Disconnected
	m.log.Info("headset manager stopped")
}

// Activate starts bringing SCO up. It is allowed from Connected and
// AudioActivationError; the latter is the recovery path after a timeout.
func (m *HeadsetManager) Activate() error {
	if !m.perm.Granted() {
		m.log.Warn("bluetooth unsupported, permissions not granted")
		return ErrPermissionDenied
	}
	if m.state != Connected && m.state != AudioActivationError {
		err := &TransitionError{Op: "activate", State: m.state}
		m.log.Warn("cannot activate", "state", m.state)
		return err
	}
	m.disableJob.Cancel()
	if !m.enableJob.Execute() {
		// A migration attempt is already running; adopt it.
		m.setState(AudioActivating)
	}
	return nil
}

// Deactivate starts bringing SCO down. Only allowed from AudioActivated.
func (m *HeadsetManager) Deactivate() error {
	if !m.perm.Granted() {
		m.log.Warn("bluetooth unsupported, permissions not granted")
		return ErrPermissionDenied
	}
	if m.state != AudioActivated {
		m.log.Warn("cannot deactivate", "state", m.state)
		return &TransitionError{Op: "deactivate", State: m.state}
	}
	m.enableJob.Cancel()
	m.disableJob.Execute()
	return nil
}

// CancelActivation abandons an activation still in progress and returns to
// Connected. A disable command is issued in case the link came up anyway.
func (m *HeadsetManager) CancelActivation() error {
	if !m.perm.Granted() {
		m.log.Warn("bluetooth unsupported, permissions not granted")
		return ErrPermissionDenied
	}
	if m.state != AudioActivating {
		m.log.Warn("cannot cancel activation", "state", m.state)
		return &TransitionError{Op: "cancel activation", State: m.state}
	}
	m.enableJob.Cancel()
	m.log.Debug("bluetooth activation cancelled", "attempts", m.enableJob.Attempts())
	m.sco.SetScoEnabled(false)
	m.setState(Connected)
	return nil
}

// HasActivationError reports whether the last activation timed out. It
// reports false when permission is missing.
func (m *HeadsetManager) HasActivationError() bool {
	if !m.perm.Granted() {
		m.log.Warn("bluetooth unsupported, permissions not granted")
		return false
	}
	return m.state == AudioActivationError
}

// State returns the current state.
func (m *HeadsetManager) State() State { return m.state }

// Headset returns the audio device for the connected headset, or false when
// nothing is connected or permission is missing.
func (m *HeadsetManager) Headset() (device.Device, bool) {
	if !m.perm.Granted() || m.state == Disconnected {
		return device.Device{}, false
	}
	return device.Bluetooth(m.HeadsetName()), true
}

// HeadsetName picks a display name: the headset carrying audio when several
// are connected, the only headset when there is one, otherwise "".
func (m *HeadsetManager) HeadsetName() string {
	switch {
	case len(m.headsets) > 1 && m.hasActiveHeadset():
		for _, h := range m.headsets {
			if h.audio {
				return h.Name
			}
		}
	case len(m.headsets) == 1:
		return m.headsets[0].Name
	}
	return ""
}

// Headsets returns the connected headsets in the order they were first seen.
func (m *HeadsetManager) Headsets() []Headset {
	out := make([]Headset, 0, len(m.headsets))
	for _, h := range m.headsets {
		out = append(out, h.Headset)
	}
	return out
}

// HandleEvent applies one platform event.
func (m *HeadsetManager) HandleEvent(ev Event) {
	if !m.started {
		m.log.Debug("dropping event, manager not started", "event", ev)
		return
	}
	switch ev := ev.(type) {
	case ProfileServiceConnected:
		m.headsets = nil
		for _, h := range ev.Headsets {
			m.log.Debug("bluetooth headset connected", "headset", h)
			m.track(h)
		}
		if m.hasConnectedHeadset() {
			m.connect()
		} else {
			m.setState(Disconnected)
		}

	case ProfileServiceDisconnected:
		m.log.Debug("bluetooth profile disconnected")
		m.headsets = nil
		m.enableJob.Cancel()
		m.disableJob.Cancel()
		m.setState(Disconnected)

	case ConnectionStateChanged:
		if ev.Connected {
			m.log.Debug("bluetooth headset connected", "headset", ev.Headset)
			m.track(ev.Headset)
			m.connect()
			return
		}
		m.log.Debug("bluetooth headset disconnected", "headset", ev.Headset)
		hadAudio := m.forget(ev.Headset.Address)
		m.setState(m.stateAfterDisconnect())
		if hadAudio && m.state == Connected {
			// Audio was on the headset that left; move it to one still here.
			m.log.Debug("active headset left, restarting sco on remaining headset")
			m.enableJob.Execute()
		}

	case AudioStateChanged:
		if ev.Active {
			m.log.Debug("bluetooth audio connected", "headset", ev.Headset)
			m.track(ev.Headset).audio = true
			m.enableJob.Cancel()
			m.setState(AudioActivated)
			return
		}
		m.log.Debug("bluetooth audio disconnected", "headset", ev.Headset)
		if h := m.find(ev.Headset.Address); h != nil {
			h.audio = false
		}
		m.disableJob.Cancel()
		if m.activeHeadsetChanged() {
			m.enableJob.Execute()
		}
	}
}

func (m *HeadsetManager) connect() {
	if !m.hasActiveHeadset() {
		m.setState(Connected)
	}
}

func (m *HeadsetManager) stateAfterDisconnect() State {
	switch {
	case m.hasActiveHeadset():
		return AudioActivated
	case m.hasConnectedHeadset():
		return Connected
	}
	return Disconnected
}

// activeHeadsetChanged is true when audio dropped while we still believe it
// is routed and some headset remains to carry it.
func (m *HeadsetManager) activeHeadsetChanged() bool {
	return m.state == AudioActivated && m.hasConnectedHeadset() && !m.hasActiveHeadset()
}

func (m *HeadsetManager) setState(s State) {
	old := m.state
	if old == s {
		return
	}
	m.state = s
	m.log.Debug("headset state changed", "from", old, "to", s)
	if s == Disconnected || old == AudioActivated {
		m.enableJob.Cancel()
	}
	if s == Disconnected {
		m.disableJob.Cancel()
	}
	if m.listener != nil {
		m.listener.HeadsetStateChanged(s)
	}
}

func (m *HeadsetManager) enableSco() {
	m.log.Debug("attempting to enable bluetooth sco")
	m.sco.SetScoEnabled(true)
	m.setState(AudioActivating)
}

func (m *HeadsetManager) enableTimedOut() {
	m.log.Warn("bluetooth audio activation failed", "error", ErrActivationTimeout)
	m.setState(AudioActivationError)
	if m.listener != nil {
		m.listener.HeadsetActivationError()
	}
}

func (m *HeadsetManager) disableSco() {
	m.log.Debug("attempting to disable bluetooth sco")
	m.sco.SetScoEnabled(false)
	m.setState(Connected)
}

func (m *HeadsetManager) disableTimedOut() {
	m.log.Debug("bluetooth audio deactivation unconfirmed", "error", ErrDeactivationTimeout)
	m.setState(Connected)
}

func (m *HeadsetManager) track(h Headset) *trackedHeadset {
	if t := m.find(h.Address); t != nil {
		if h.Name != "" {
			t.Name = h.Name
		}
		return t
	}
	t := &trackedHeadset{Headset: h}
	m.headsets = append(m.headsets, t)
	return t
}

func (m *HeadsetManager) find(addr string) *trackedHeadset {
	for _, h := range m.headsets {
		if h.Address == addr {
			return h
		}
	}
	return nil
}

// forget removes a headset and reports whether it was carrying audio.
func (m *HeadsetManager) forget(addr string) bool {
	for i, h := range m.headsets {
		if h.Address == addr {
			m.headsets = append(m.headsets[:i], m.headsets[i+1:]...)
			return h.audio
		}
	}
	return false
}

func (m *HeadsetManager) hasActiveHeadset() bool {
	for _, h := range m.headsets {
		if h.audio {
			return true
		}
	}
	return false
}

func (m *HeadsetManager) hasConnectedHeadset() bool { return len(m.headsets) > 0 }
