package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mil-ad/audioswitch/internal/config"
)

var (
	configPath string
	socketFlag string
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "audioswitch",
		Short: "Route call audio between Bluetooth, wired and built-in devices",
		Long: `audioswitch picks the audio device a call should use from a priority
order and keeps the Bluetooth SCO link in step with that choice.

Run "audioswitch daemon" once per user session; the other commands talk to it
over its unix socket.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "Config file")
	root.PersistentFlags().StringVarP(&socketFlag, "socket", "s", "", "Control socket (default from config)")

	root.AddCommand(
		daemonCommand(),
		statusCommand(),
		selectCommand(),
		activateCommand(),
		deactivateCommand(),
		watchCommand(),
		consoleCommand(),
	)
	return root
}

// socketPath resolves the control socket: flag, then config, then default.
func socketPath() string {
	if socketFlag != "" {
		return socketFlag
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.SocketPath()
	}
	return cfg.Socket
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
