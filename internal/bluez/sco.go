package bluez

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/mil-ad/audioswitch/bluetooth"
)

const transportCallTimeout = 2 * time.Second

// ScoSink is the bluetooth.ScoController backed by BlueZ media transports.
// Enabling acquires the voice transport of each connected headset, which
// brings the SCO link up; disabling releases what was acquired. The outcome
// comes back as transport State signals through Watch.
//
// SetScoEnabled never blocks: commands are handed to the Run goroutine and
// only the latest one is kept.
type ScoSink struct {
	c    *Client
	log  *slog.Logger
	cmds chan bool

	// Owned by Run.
	held map[dbus.ObjectPath]*os.File
}

var _ bluetooth.ScoController = (*ScoSink)(nil)

func (c *Client) ScoSink() *ScoSink {
	return &ScoSink{
		c:    c,
		log:  c.log.With("sink", "sco"),
		cmds: make(chan bool, 1),
		held: make(map[dbus.ObjectPath]*os.File),
	}
}

func (s *ScoSink) SetScoEnabled(enabled bool) {
	select {
	case s.cmds <- enabled:
		return
	default:
	}
	// Replace a command that has not been picked up yet.
	select {
	case <-s.cmds:
	default:
	}
	select {
	case s.cmds <- enabled:
	default:
		s.log.Debug("dropping sco command", "enabled", enabled)
	}
}

// Run applies commands until ctx is cancelled, then releases every transport
// it still holds.
func (s *ScoSink) Run(ctx context.Context) {
	defer s.releaseAll()
	for {
		select {
		case <-ctx.Done():
			return
		case enabled := <-s.cmds:
			if enabled {
				s.acquire(ctx)
			} else {
				s.releaseAll()
			}
		}
	}
}

func (s *ScoSink) acquire(ctx context.Context) {
	s.c.mu.Lock()
	paths := s.c.tr.voiceTransports()
	s.c.mu.Unlock()
	if len(paths) == 0 {
		s.log.Debug("no voice transport to acquire")
		return
	}
	for _, p := range paths {
		if _, ok := s.held[p]; ok {
			continue
		}
		f, err := s.acquireOne(ctx, p)
		if err != nil {
			s.log.Warn("failed to acquire transport", "transport", p, "error", err)
			continue
		}
		s.held[p] = f
		s.log.Debug("transport acquired", "transport", p)
	}
}

func (s *ScoSink) acquireOne(ctx context.Context, path dbus.ObjectPath) (*os.File, error) {
	method := transportIface + ".Acquire"
	if state, err := s.c.getString(path, transportIface, "State"); err == nil && state == "pending" {
		method = transportIface + ".TryAcquire"
	}
	ctx, cancel := context.WithTimeout(ctx, transportCallTimeout)
	defer cancel()

	var (
		fd        dbus.UnixFD
		mtuRead   uint16
		mtuWrite  uint16
		transport = s.c.conn.Object(busName, path)
	)
	if err := transport.CallWithContext(ctx, method, 0).Store(&fd, &mtuRead, &mtuWrite); err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return os.NewFile(uintptr(fd), string(path)), nil
}

func (s *ScoSink) releaseAll() {
	for p, f := range s.held {
		ctx, cancel := context.WithTimeout(context.Background(), transportCallTimeout)
		err := s.c.conn.Object(busName, p).CallWithContext(ctx, transportIface+".Release", 0).Err
		cancel()
		if err != nil {
			s.log.Warn("failed to release transport", "transport", p, "error", err)
		}
		f.Close()
		delete(s.held, p)
		s.log.Debug("transport released", "transport", p)
	}
}
