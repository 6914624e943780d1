package bluez

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mil-ad/audioswitch/bluetooth"
)

const defaultSystemBusSocket = "/var/run/dbus/system_bus_socket"

// systemBusSocket resolves the socket path from DBUS_SYSTEM_BUS_ADDRESS.
// Non-path transports fall back to the well-known location.
func systemBusSocket(addr string) string {
	for _, entry := range strings.Split(addr, ";") {
		if !strings.HasPrefix(entry, "unix:") {
			continue
		}
		for _, kv := range strings.Split(strings.TrimPrefix(entry, "unix:"), ",") {
			if v, ok := strings.CutPrefix(kv, "path="); ok && v != "" {
				return v
			}
		}
	}
	return defaultSystemBusSocket
}

// Permission grants Bluetooth use when this process may talk to the system
// bus. BlueZ policy decides the rest, and its refusals surface as call
// errors.
type Permission struct {
	socket string
	access func(path string, mode uint32) error
}

var _ bluetooth.Permission = Permission{}

func NewPermission() Permission {
	return Permission{
		socket: systemBusSocket(os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")),
		access: unix.Access,
	}
}

func (p Permission) Granted() bool {
	return p.access(p.socket, unix.R_OK|unix.W_OK) == nil
}
