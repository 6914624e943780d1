package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mil-ad/audioswitch"
	"github.com/mil-ad/audioswitch/bluetooth"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/bluez"
	"github.com/mil-ad/audioswitch/internal/config"
	"github.com/mil-ad/audioswitch/internal/eventloop"
	"github.com/mil-ad/audioswitch/internal/ipc"
	"github.com/mil-ad/audioswitch/internal/logger"
	"github.com/mil-ad/audioswitch/internal/wired"
)

const shutdownTimeout = 3 * time.Second

func daemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the audio routing daemon",
		Long: `Run the daemon in the foreground. It follows BlueZ for headset
connections, udev for wired headsets, and serves the control API on its
unix socket until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketFlag != "" {
		cfg.Socket = socketFlag
	}
	if err := logger.Configure(cfg.LogFormat, cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Log

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	loop := eventloop.New(log)
	if err := loop.Start(); err != nil {
		return err
	}

	var headset *bluetooth.HeadsetManager
	bz, err := bluez.Open(cfg.Adapter, log)
	if err != nil {
		log.Warn("running without bluetooth", "error", err)
	}

	// Workers stop before the loop, and the bus connection outlives both.
	workCtx, stopWork := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	defer func() {
		stopWork()
		workers.Wait()
		loop.Stop()
		if bz != nil {
			bz.Close()
		}
	}()

	if bz != nil {
		sink := bz.ScoSink()
		workers.Add(1)
		go func() {
			defer workers.Done()
			sink.Run(workCtx)
		}()
		headset = bluetooth.NewHeadsetManager(loop, sink, bluez.NewPermission(), cfg.Bluetooth(), log)
	}

	sess, err := audioswitch.New(loop, headset, audioswitch.Config{Order: cfg.Order()}, log)
	if err != nil {
		return err
	}
	log = log.With("session", sess.ID().String())

	hub := ipc.NewHub(logger.For(log, "events"))
	if err := sess.Start(broadcaster(hub)); err != nil {
		return err
	}

	if bz != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			err := bz.Watch(workCtx, func(ev bluetooth.Event) {
				if err := sess.BluetoothEvent(ev); err != nil {
					log.Debug("dropping bluetooth event", "error", err)
				}
			})
			if err != nil {
				log.Error("bluez watch stopped", "error", err)
			}
		}()
	}

	if cfg.Wired() {
		mon := wired.NewMonitor(log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			err := mon.Run(workCtx, func(plugged bool) {
				if err := sess.WiredHeadsetChanged(plugged); err != nil {
					log.Debug("dropping wired headset change", "error", err)
				}
			})
			if err != nil && !errors.Is(err, wired.ErrUnsupported) {
				log.Error("wired headset monitor stopped", "error", err)
			}
		}()
	}

	ln, err := ipc.Listen(cfg.Socket)
	if err != nil {
		return err
	}
	srv := ipc.NewServer(sess, hub, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-sigCtx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("control api stopped", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("control api shutdown", "error", err)
	}
	if err := sess.Stop(); err != nil {
		log.Warn("session stop", "error", err)
	}
	if err := drain(ctx, loop); err != nil {
		log.Warn("event loop did not drain", "error", err)
	}
	return nil
}

// drain waits until everything queued on loop so far has run.
func drain(ctx context.Context, loop eventloop.Loop) error {
	done := make(chan struct{})
	if err := loop.Post(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}

// broadcaster publishes session callbacks to event watchers.
func broadcaster(hub *ipc.Hub) audioswitch.Listener {
	return audioswitch.ListenerFuncs{
		DevicesChanged: func(available []device.Device, selected *device.Device) {
			hub.Broadcast(ipc.Event{
				Type:      ipc.EventDevicesChanged,
				Time:      time.Now(),
				Available: available,
				Selected:  selected,
			})
		},
		OnError: func() {
			hub.Broadcast(ipc.Event{Type: ipc.EventActivationError, Time: time.Now()})
		},
	}
}
