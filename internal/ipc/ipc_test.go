package ipc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mil-ad/audioswitch"
	"github.com/mil-ad/audioswitch/bluetooth"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/logger"
)

type fakeController struct {
	mu         sync.Mutex
	status     audioswitch.Status
	selected   []device.Kind
	activated  int
	deactivate int
	err        error
}

func (f *fakeController) Status() audioswitch.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) SelectDevice(k device.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.selected = append(f.selected, k)
	return nil
}

func (f *fakeController) Activate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated++
	return f.err
}

func (f *fakeController) Deactivate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivate++
	return f.err
}

func startServer(t *testing.T, ctl Controller) (*Client, *Hub) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "a.sock")
	ln, err := Listen(sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	hub := NewHub(logger.Discard())
	srv := NewServer(ctl, hub, logger.Discard())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return NewClient(sock), hub
}

func startedController() *fakeController {
	speaker := device.SpeakerphoneDevice()
	return &fakeController{status: audioswitch.Status{
		ID:           "abc",
		Started:      true,
		Active:       true,
		HeadsetState: bluetooth.Connected,
		HeadsetName:  "AirPods",
		Selection: device.Selection{
			Available: []device.Device{device.Bluetooth("AirPods"), speaker},
			Selected:  &speaker,
		},
	}}
}

func TestClientStatus(t *testing.T) {
	ctl := startedController()
	c, _ := startServer(t, ctl)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.ID != "abc" || st.HeadsetState != bluetooth.Connected || st.HeadsetName != "AirPods" {
		t.Fatalf("status = %+v", st)
	}
	if !st.Selection.Equal(ctl.status.Selection) {
		t.Fatalf("selection = %+v", st.Selection)
	}
}

func TestClientCommands(t *testing.T) {
	ctl := startedController()
	c, _ := startServer(t, ctl)
	ctx := context.Background()

	if _, err := c.Select(ctx, device.Earpiece); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := c.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := c.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if len(ctl.selected) != 1 || ctl.selected[0] != device.Earpiece || ctl.activated != 1 || ctl.deactivate != 1 {
		t.Fatalf("controller saw %+v", ctl)
	}
}

func TestClientErrors(t *testing.T) {
	ctl := startedController()
	c, _ := startServer(t, ctl)
	ctx := context.Background()

	ctl.err = audioswitch.ErrUnavailable
	_, err := c.Select(ctx, device.WiredHeadset)
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}

	ctl.err = audioswitch.ErrNotStarted
	_, err = c.Activate(ctx)
	var e *Error
	if !errors.As(err, &e) || e.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503", err)
	}
}

func TestBadSelectBody(t *testing.T) {
	srv := NewServer(startedController(), NewHub(logger.Discard()), logger.Discard())
	req := httptest.NewRequest(http.MethodPost, PathSelect, strings.NewReader(`{"device":"radio"}`))
	rec := httptest.NewRecorder()
	srv.handleSelect(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	ctl := startedController()
	srv := NewServer(ctl, NewHub(logger.Discard()), logger.Discard())

	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, httptest.NewRequest(http.MethodGet, PathHealthz, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	ctl.status.Started = false
	rec = httptest.NewRecorder()
	srv.handleHealthz(rec, httptest.NewRequest(http.MethodGet, PathHealthz, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestPeerGate(t *testing.T) {
	srv := NewServer(startedController(), NewHub(logger.Discard()), logger.Discard())
	srv.uid = 4242
	h := srv.Routes()

	tests := []struct {
		name string
		ctx  func(context.Context) context.Context
		want int
	}{
		{"no credentials", func(ctx context.Context) context.Context { return ctx }, http.StatusForbidden},
		{"other user", func(ctx context.Context) context.Context {
			return context.WithValue(ctx, peerKey{}, uint32(1000))
		}, http.StatusForbidden},
		{"same user", func(ctx context.Context) context.Context {
			return context.WithValue(ctx, peerKey{}, uint32(4242))
		}, http.StatusOK},
		{"root", func(ctx context.Context) context.Context {
			return context.WithValue(ctx, peerKey{}, uint32(0))
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, PathStatus, nil)
			req = req.WithContext(tt.ctx(req.Context()))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	c, hub := startServer(t, startedController())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	earpiece := device.EarpieceDevice()
	hub.Broadcast(Event{Type: EventDevicesChanged, Available: []device.Device{earpiece}, Selected: &earpiece})

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, func(ev Event) { got <- ev }) }()

	select {
	case ev := <-got:
		if ev.Type != EventDevicesChanged || ev.Selected == nil || ev.Selected.Kind != device.Earpiece {
			t.Fatalf("replayed event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no replayed event")
	}

	// Wait for the subscription before broadcasting.
	deadline := time.Now().Add(5 * time.Second)
	for hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(Event{Type: EventActivationError})
	select {
	case ev := <-got:
		if ev.Type != EventActivationError {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no activation error event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(logger.Discard())
	_, ch := hub.Subscribe()
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Broadcast(Event{Type: EventActivationError})
	}
	if hub.Len() != 0 {
		t.Fatal("slow subscriber kept")
	}
	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("received %d events before close, want %d", n, subscriberBuffer)
	}
}

func TestHubReplaysLastSelection(t *testing.T) {
	hub := NewHub(logger.Discard())
	hub.Broadcast(Event{Type: EventDevicesChanged})
	hub.Broadcast(Event{Type: EventActivationError})
	id, ch := hub.Subscribe()
	if ev := <-ch; ev.Type != EventDevicesChanged {
		t.Fatalf("replayed %v", ev.Type)
	}
	hub.Unsubscribe(id)
	hub.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
}
