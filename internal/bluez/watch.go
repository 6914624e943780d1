package bluez

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/mil-ad/audioswitch/bluetooth"
)

func (c *Client) matches() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace("/org/bluez"),
		},
		{
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
			dbus.WithMatchSender(busName),
		},
		{
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesRemoved"),
			dbus.WithMatchSender(busName),
		},
		{
			dbus.WithMatchInterface(dbusIface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, busName),
		},
	}
}

// Watch delivers headset events to sink until ctx is cancelled. It starts
// with a snapshot of the adapter, so sink sees the headsets that were already
// connected. sink is called from the Watch goroutine and must not block.
func (c *Client) Watch(ctx context.Context, sink func(bluetooth.Event)) error {
	sigCh := make(chan *dbus.Signal, 32)
	c.conn.Signal(sigCh)
	defer c.conn.RemoveSignal(sigCh)

	for _, m := range c.matches() {
		if err := c.conn.AddMatchSignal(m...); err != nil {
			return errors.Wrap(err, "subscribe to bluez signals")
		}
		defer func(m []dbus.MatchOption) { _ = c.conn.RemoveMatchSignal(m...) }(m)
	}

	if err := c.reload(sink); err != nil {
		// BlueZ may simply not be up yet; NameOwnerChanged brings us back.
		c.log.Warn("initial bluez snapshot failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return errors.New("system bus connection closed")
			}
			if sig == nil {
				continue
			}
			c.mu.Lock()
			events, reload := c.tr.handle(sig)
			c.mu.Unlock()
			for _, ev := range events {
				c.log.Debug("bluez event", "event", ev)
				sink(ev)
			}
			if reload {
				c.log.Info("bluez appeared on the bus")
				if err := c.reload(sink); err != nil {
					c.log.Warn("bluez snapshot failed", "error", err)
				}
			}
		}
	}
}

func (c *Client) reload(sink func(bluetooth.Event)) error {
	objs, err := c.managedObjects()
	if err != nil {
		return err
	}
	c.mu.Lock()
	events := c.tr.load(objs)
	c.mu.Unlock()
	for _, ev := range events {
		sink(ev)
	}
	return nil
}
