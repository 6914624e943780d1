package bluetooth

import "fmt"

// State is the headset connectivity and audio state. Exactly one is live.
type State int

const (
	Disconnected State = iota
	Connected
	AudioActivating
	AudioActivationError
	AudioActivated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case AudioActivating:
		return "audio-activating"
	case AudioActivationError:
		return "audio-activation-error"
	case AudioActivated:
		return "audio-activated"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := Disconnected; c <= AudioActivated; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown headset state %q", text)
}
