// Package device defines the audio devices a call can be routed through and
// the priority order used to choose between them.
package device

import (
	"fmt"
	"strings"
)

// Kind identifies a class of audio route. Device identity is the kind alone.
type Kind int

const (
	KindUnknown Kind = iota
	BluetoothHeadset
	WiredHeadset
	Earpiece
	Speakerphone
)

var kindNames = map[Kind]string{
	BluetoothHeadset: "bluetooth",
	WiredHeadset:     "wired",
	Earpiece:         "earpiece",
	Speakerphone:     "speakerphone",
}

// Kinds returns every known kind in default priority order.
func Kinds() []Kind {
	return []Kind{BluetoothHeadset, WiredHeadset, Earpiece, Speakerphone}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses the names produced by Kind.String. A few common aliases
// are accepted for the command line.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bluetooth", "bt", "bluetoothheadset":
		return BluetoothHeadset, nil
	case "wired", "wiredheadset", "headset":
		return WiredHeadset, nil
	case "earpiece":
		return Earpiece, nil
	case "speakerphone", "speaker":
		return Speakerphone, nil
	}
	return KindUnknown, fmt.Errorf("unknown device kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown device kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Device is a concrete audio route. Name is only carried for display and is
// only ever set for Bluetooth headsets.
type Device struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`
}

func Bluetooth(name string) Device { return Device{Kind: BluetoothHeadset, Name: name} }
func Wired() Device                { return Device{Kind: WiredHeadset} }
func EarpieceDevice() Device       { return Device{Kind: Earpiece} }
func SpeakerphoneDevice() Device   { return Device{Kind: Speakerphone} }

// Equal compares devices by kind. Two Bluetooth headsets are equal whatever
// their names.
func (d Device) Equal(o Device) bool { return d.Kind == o.Kind }

func (d Device) String() string {
	if d.Name != "" {
		return fmt.Sprintf("%s(%s)", d.Kind, d.Name)
	}
	return d.Kind.String()
}

// Selection is the pair handed to listeners: the devices that can carry audio
// and the one that currently does. Selected is nil when nothing is selected.
type Selection struct {
	Available []Device `json:"available"`
	Selected  *Device  `json:"selected,omitempty"`
}

// Equal reports whether two selections describe the same routes, including
// display names.
func (s Selection) Equal(o Selection) bool {
	if len(s.Available) != len(o.Available) {
		return false
	}
	for i := range s.Available {
		if s.Available[i] != o.Available[i] {
			return false
		}
	}
	switch {
	case s.Selected == nil && o.Selected == nil:
		return true
	case s.Selected == nil || o.Selected == nil:
		return false
	}
	return *s.Selected == *o.Selected
}

// Contains reports whether a device of kind k is available.
func (s Selection) Contains(k Kind) bool {
	for _, d := range s.Available {
		if d.Kind == k {
			return true
		}
	}
	return false
}
