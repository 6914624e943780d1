//go:build !linux || !cgo

package wired

import (
	"context"
	"log/slog"

	"github.com/mil-ad/audioswitch/internal/logger"
)

type Monitor struct {
	log *slog.Logger
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: logger.For(log, "wired")}
}

// Run reports no headset and returns ErrUnsupported.
func (m *Monitor) Run(ctx context.Context, notify Notify) error {
	m.log.Warn("wired headset detection needs linux with cgo")
	notify(false)
	return ErrUnsupported
}
