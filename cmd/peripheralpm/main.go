package main

import (
	"fmt"
	"os"
	"syscall"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/pid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "peripheralpm",
		Short:        "Peripheral performance statistics daemon",
		Long:         "peripheralpm polls power supplies, fans, thermal sensors and modules and publishes 15-minute and 24-hour statistics.",
		SilenceUsage: true,
	}

	root.AddCommand(newStartCommand(), newStopCommand(), newStatusCommand())

	return root
}

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.WithFlags(cmd.Flags()))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func newStopCommand() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, err := pid.Signal(pidFile, syscall.SIGTERM)
			if errors.HasCode(err, errors.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "peripheralpm is not running")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to peripheralpm (pid %d)\n", proc)
			return nil
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", pid.DefaultPath(), "PID file path")

	return cmd
}

func newStatusCommand() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, err := pid.Running(pidFile)
			if errors.HasCode(err, errors.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "peripheralpm is not running")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "peripheralpm is running (pid %d)\n", proc)
			return nil
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", pid.DefaultPath(), "PID file path")

	return cmd
}
