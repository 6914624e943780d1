//go:build linux && cgo

package wired

import (
	"context"
	"log/slog"

	"github.com/jochenvg/go-udev"
	"github.com/pkg/errors"

	"github.com/mil-ad/audioswitch/internal/logger"
)

const subsystem = "sound"

// Monitor watches udev for headset sound cards.
type Monitor struct {
	u   udev.Udev
	log *slog.Logger
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: logger.For(log, "wired")}
}

// Run reports the current state once, then every change, until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context, notify Notify) error {
	mon := m.u.NewMonitorFromNetlink("udev")
	if mon == nil {
		return errors.New("create udev monitor")
	}
	if err := mon.FilterAddMatchSubsystem(subsystem); err != nil {
		return errors.Wrap(err, "filter udev monitor")
	}
	// Subscribe before enumerating so nothing plugged in between is lost.
	ch, err := mon.DeviceChan(ctx.Done())
	if err != nil {
		return errors.Wrap(err, "start udev monitor")
	}

	p := newPresence()
	initial, err := m.enumerate()
	if err != nil {
		return err
	}
	for _, d := range initial {
		p.observe(d)
	}
	m.log.Info("wired headset scan complete", "plugged", p.plugged(), "devices", p.paths())
	notify(p.plugged())

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-ch:
			if !ok {
				return nil
			}
			if p.observe(d) {
				m.log.Debug("wired headset change", "action", d.Action(), "syspath", d.Syspath(), "plugged", p.plugged())
				notify(p.plugged())
			}
		}
	}
}

func (m *Monitor) enumerate() ([]*udev.Device, error) {
	e := m.u.NewEnumerate()
	if err := e.AddMatchSubsystem(subsystem); err != nil {
		return nil, errors.Wrap(err, "filter udev enumeration")
	}
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, errors.Wrap(err, "filter udev enumeration")
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate sound devices")
	}
	return devices, nil
}
