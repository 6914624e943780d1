package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mil-ad/audioswitch/device"
	"github.com/mil-ad/audioswitch/internal/ipc"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's current status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ipc.NewClient(socketPath()).Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func selectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "select <device>",
		Short:   "Route audio to a specific device",
		Long:    "Select one of the available devices. The choice holds until that device goes away.",
		Example: "  audioswitch select speakerphone\n  audioswitch select bluetooth",
		Args:    cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			var names []string
			for _, k := range device.Kinds() {
				names = append(names, k.String())
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: runSelect,
	}
}

func runSelect(cmd *cobra.Command, args []string) error {
	k, err := device.ParseKind(args[0])
	if err != nil {
		return err
	}
	st, err := ipc.NewClient(socketPath()).Select(cmd.Context(), k)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}

func activateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Start routing audio to the selected device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ipc.NewClient(socketPath()).Activate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func deactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Stop driving audio hardware, leaving device tracking running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ipc.NewClient(socketPath()).Deactivate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream device changes as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			enc := json.NewEncoder(cmd.OutOrStdout())
			return ipc.NewClient(socketPath()).Watch(ctx, func(ev ipc.Event) {
				enc.Encode(ev)
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

