package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mil-ad/audioswitch"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/logger"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + writeWait
)

// Controller is the session surface the API exposes.
type Controller interface {
	Status() audioswitch.Status
	SelectDevice(k device.Kind) error
	Activate() error
	Deactivate() error
}

type Server struct {
	ctl      Controller
	hub      *Hub
	log      *slog.Logger
	uid      uint32
	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewServer(ctl Controller, hub *Hub, log *slog.Logger) *Server {
	s := &Server{
		ctl: ctl,
		hub: hub,
		log: logger.For(log, "ipc"),
		uid: uint32(os.Getuid()),
		upgrader: websocket.Upgrader{
			// Peers are vetted by uid; there is no browser origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.srv = &http.Server{
		Handler:           s.Routes(),
		ConnContext:       connContext,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes configures all API routes.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.peerGate)

	router.HandleFunc(PathHealthz, s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc(PathStatus, s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc(PathSelect, s.handleSelect).Methods(http.MethodPost)
	router.HandleFunc(PathActivate, s.command(s.ctl.Activate)).Methods(http.MethodPost)
	router.HandleFunc(PathDeactivate, s.command(s.ctl.Deactivate)).Methods(http.MethodPost)
	router.HandleFunc(PathEvents, s.handleEvents).Methods(http.MethodGet)

	return router
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", "addr", ln.Addr().String())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and disconnects event watchers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ctl.Status().Started {
		writeError(w, http.StatusServiceUnavailable, audioswitch.ErrNotStarted)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	s.log.Info("select requested", "device", req.Device)
	s.respond(w, s.ctl.SelectDevice(req.Device))
}

func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("command requested", "path", r.URL.Path)
		s.respond(w, fn())
	}
}

// respond reports a queued command. Commands run on the session loop, so the
// result the caller sees is the status at the time it was queued.
func (s *Server) respond(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.ctl.Status())
	case errors.Is(err, audioswitch.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, audioswitch.ErrUnavailable):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	log := s.log.With("subscriber", id)
	log.Info("event watcher connected")

	// The reader only exists to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			log.Info("event watcher disconnected")
			return
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopping"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
