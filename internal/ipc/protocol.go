// Package ipc is the daemon's control API: JSON over HTTP on a unix socket,
// plus a websocket stream of selection events.
package ipc

import (
	"time"

	"github.com/mil-ad/audioswitch/device"
)

// Routes.
const (
	PathStatus     = "/status"
	PathSelect     = "/select"
	PathActivate   = "/activate"
	PathDeactivate = "/deactivate"
	PathHealthz    = "/healthz"
	PathEvents     = "/events"
)

// EventType names what an Event reports.
type EventType string

const (
	EventDevicesChanged  EventType = "devices_changed"
	EventActivationError EventType = "activation_error"
)

// SelectRequest is the body of POST /select.
type SelectRequest struct {
	Device device.Kind `json:"device"`
}

// ErrorResponse is returned with any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Event is one message on the /events stream.
type Event struct {
	Type      EventType       `json:"type"`
	Time      time.Time       `json:"time"`
	Available []device.Device `json:"available,omitempty"`
	Selected  *device.Device  `json:"selected,omitempty"` // nil on activation errors
}
