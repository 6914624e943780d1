package bluetooth

// Headset identifies a Bluetooth device by address. Name is for display.
type Headset struct {
	Address string
	Name    string
}

func (h Headset) String() string {
	if h.Name != "" {
		return h.Name + " (" + h.Address + ")"
	}
	return h.Address
}

// Event is a notification from the platform's headset profile. It is one of
// ProfileServiceConnected, ProfileServiceDisconnected, ConnectionStateChanged
// or AudioStateChanged.
type Event interface {
	event()
}

// ProfileServiceConnected reports that the headset profile became reachable,
// along with the headsets already connected through it.
type ProfileServiceConnected struct {
	Headsets []Headset
}

// ProfileServiceDisconnected reports that the headset profile went away.
type ProfileServiceDisconnected struct{}

// ConnectionStateChanged reports a headset profile connection going up or down.
type ConnectionStateChanged struct {
	Headset   Headset
	Connected bool
}

// AudioStateChanged reports the SCO link to a headset going up or down.
type AudioStateChanged struct {
	Headset Headset
	Active  bool
}

func (ProfileServiceConnected) event()    {}
func (ProfileServiceDisconnected) event() {}
func (ConnectionStateChanged) event()     {}
func (AudioStateChanged) event()          {}

// ScoController is the hardware command sink. Calls are fire-and-forget; the
// outcome arrives later as an AudioStateChanged event.
type ScoController interface {
	SetScoEnabled(enabled bool)
}

// Permission gates every public command.
type Permission interface {
	Granted() bool
}

// PermissionFunc adapts a function to Permission.
type PermissionFunc func() bool

func (f PermissionFunc) Granted() bool { return f() }

// AlwaysGranted is a Permission for platforms without a Bluetooth permission
// model.
var AlwaysGranted Permission = PermissionFunc(func() bool { return true })

// Listener receives headset state changes. Calls happen on the event loop.
type Listener interface {
	HeadsetStateChanged(state State)
	HeadsetActivationError()
}
