package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mil-ad/audioswitch"
	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/ipc"
)

const requestTimeout = 5 * time.Second

func consoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive prompt for a running daemon",
		Long:  "Open a prompt that sends commands to the daemon and prints device changes as they happen.",
		Args:  cobra.NoArgs,
		RunE:  runConsole,
	}
}

func filterCtrlZ(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

type console struct {
	client *ipc.Client
	out    io.Writer
	quit   bool
}

func runConsole(cmd *cobra.Command, args []string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[1m[audioswitch]\033[m> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		FuncFilterInputRune: filterCtrlZ,
	})
	if err != nil {
		return errors.Wrap(err, "initialize console")
	}
	defer l.Close()

	c := &console{client: ipc.NewClient(socketPath()), out: l.Stdout()}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		err := c.client.Watch(ctx, func(ev ipc.Event) { c.printEvent(ev) })
		if err != nil {
			fmt.Fprintln(c.out, "event stream closed:", err)
		}
	}()

	for !c.quit {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}
		c.handleCommand(ctx, strings.Fields(line))
	}
	return nil
}

type commandMeta struct {
	F       func(c *console, ctx context.Context, argv []string) error
	Aliases []string
	Usage   string
	Help    string
}

var commands []commandMeta

func addCommand(f func(*console, context.Context, []string) error, usage, help string, names ...string) struct{} {
	commands = append(commands, commandMeta{F: f, Aliases: names, Usage: usage, Help: help})
	return struct{}{}
}

var _ = addCommand(cmdHelp, "", "Display this help text.", "help", "?")
var _ = addCommand(cmdStatus, "", "Show the session status.", "status", "st")
var _ = addCommand(cmdSelect, "<device>", "Route audio to a device.", "select", "sel")
var _ = addCommand(cmdActivate, "", "Start driving audio hardware.", "activate", "on")
var _ = addCommand(cmdDeactivate, "", "Stop driving audio hardware.", "deactivate", "off")
var _ = addCommand(cmdQuit, "", "Leave the console. The daemon keeps running.", "quit", "exit", "q")

func findCommand(name string) commandMeta {
	for _, v := range commands {
		for _, alias := range v.Aliases {
			if name == alias {
				return v
			}
		}
	}
	return commandMeta{}
}

func (c *console) handleCommand(ctx context.Context, argv []string) {
	if len(argv) == 0 {
		return
	}
	meta := findCommand(argv[0])
	if meta.F == nil {
		fmt.Fprintln(c.out, "unknown command", argv[0])
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := meta.F(c, ctx, argv[1:]); err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
}

func cmdHelp(c *console, _ context.Context, _ []string) error {
	fmt.Fprintln(c.out, "Commands:")
	for _, v := range commands {
		name := v.Aliases[0]
		if v.Usage != "" {
			name += " " + v.Usage
		}
		fmt.Fprintf(c.out, "  %-18s %s\n", name, v.Help)
	}
	return nil
}

func cmdStatus(c *console, ctx context.Context, _ []string) error {
	st, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	c.printStatus(st)
	return nil
}

func cmdSelect(c *console, ctx context.Context, argv []string) error {
	if len(argv) != 1 {
		return errors.Errorf("usage: select <device> (one of %s)", device.DefaultOrder())
	}
	k, err := device.ParseKind(argv[0])
	if err != nil {
		return err
	}
	_, err = c.client.Select(ctx, k)
	return err
}

func cmdActivate(c *console, ctx context.Context, _ []string) error {
	_, err := c.client.Activate(ctx)
	return err
}

func cmdDeactivate(c *console, ctx context.Context, _ []string) error {
	_, err := c.client.Deactivate(ctx)
	return err
}

func cmdQuit(c *console, _ context.Context, _ []string) error {
	c.quit = true
	return nil
}

func (c *console) printStatus(st audioswitch.Status) {
	state := "stopped"
	switch {
	case st.Started && st.Active:
		state = "active"
	case st.Started:
		state = "idle"
	}
	fmt.Fprintf(c.out, "session %s: %s\n", st.ID, state)
	headset := st.HeadsetState.String()
	if st.HeadsetName != "" {
		headset += " (" + st.HeadsetName + ")"
	}
	fmt.Fprintf(c.out, "  bluetooth: %s\n", headset)
	if st.UserSelected != nil {
		fmt.Fprintf(c.out, "  user choice: %s\n", *st.UserSelected)
	}
	c.printSelection(st.Selection.Available, st.Selection.Selected)
}

func (c *console) printSelection(available []device.Device, selected *device.Device) {
	for _, d := range available {
		mark := " "
		if selected != nil && selected.Equal(d) {
			mark = "*"
		}
		fmt.Fprintf(c.out, "  %s %s\n", mark, d)
	}
	if len(available) == 0 {
		fmt.Fprintln(c.out, "  no devices")
	}
}

func (c *console) printEvent(ev ipc.Event) {
	switch ev.Type {
	case ipc.EventDevicesChanged:
		fmt.Fprintln(c.out, "devices changed:")
		c.printSelection(ev.Available, ev.Selected)
	case ipc.EventActivationError:
		fmt.Fprintln(c.out, "bluetooth audio could not be activated")
	}
}
