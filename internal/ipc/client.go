package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mil-ad/audioswitch"
	"github.com/mil-ad/audioswitch/device"
)

// The host part of request URLs is ignored; every request goes to the socket.
const baseURL = "http://audioswitch"

// Client talks to a running daemon over its unix socket.
type Client struct {
	socket string
	http   *http.Client
}

func NewClient(socket string) *Client {
	c := &Client{socket: socket}
	c.http = &http.Client{Transport: &http.Transport{DialContext: c.dial}}
	return c
}

func (c *Client) dial(ctx context.Context, _, _ string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w (is `audioswitch daemon` running?)", err)
	}
	return conn, nil
}

func (c *Client) Status(ctx context.Context) (audioswitch.Status, error) {
	var st audioswitch.Status
	err := c.do(ctx, http.MethodGet, PathStatus, nil, &st)
	return st, err
}

func (c *Client) Select(ctx context.Context, k device.Kind) (audioswitch.Status, error) {
	var st audioswitch.Status
	err := c.do(ctx, http.MethodPost, PathSelect, SelectRequest{Device: k}, &st)
	return st, err
}

func (c *Client) Activate(ctx context.Context) (audioswitch.Status, error) {
	var st audioswitch.Status
	err := c.do(ctx, http.MethodPost, PathActivate, nil, &st)
	return st, err
}

func (c *Client) Deactivate(ctx context.Context) (audioswitch.Status, error) {
	var st audioswitch.Status
	err := c.do(ctx, http.MethodPost, PathDeactivate, nil, &st)
	return st, err
}

// Watch streams events to fn until ctx is cancelled or the daemon goes away.
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	dialer := websocket.Dialer{NetDialContext: c.dial}
	conn, resp, err := dialer.DialContext(ctx, "ws://audioswitch"+PathEvents, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("watch: %s", resp.Status)
		}
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}

// Error is a non-2xx reply from the daemon.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon: %s (%d)", e.Message, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Code: resp.StatusCode, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err is the daemon refusing a device that is
// not present.
func IsUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == http.StatusConflict
}
