package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/config"
	relaynats "github.com/smazurov/relaycast/internal/nats"
)

// controlTimeout covers a stop that escalates to SIGKILL.
const controlTimeout = 30 * time.Second

// natsOptions locates the controller's NATS server the same way the
// controller does.
type natsOptions struct {
	Config   string
	NatsURL  string `toml:"nats.url" env:"NATS_URL"`
	NatsPort int    `toml:"nats.port" env:"NATS_PORT"`
}

func controllerURL(cmd *cobra.Command) (string, error) {
	opts := natsOptions{Config: "config.toml", NatsPort: relaynats.DefaultPort}
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		opts.Config = v
	}
	if v, err := cmd.Flags().GetString("nats-url"); err == nil {
		opts.NatsURL = v
	}
	if v, err := cmd.Flags().GetInt("nats-port"); err == nil {
		opts.NatsPort = v
	}
	_ = config.LoadConfig(&opts, cmd)

	if opts.NatsURL != "" {
		return opts.NatsURL, nil
	}
	if opts.NatsPort <= 0 {
		return "", fmt.Errorf("NATS is disabled, set --nats-url or --nats-port")
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", opts.NatsPort), nil
}

// CreateStartCmd creates the start command.
func CreateStartCmd() *cobra.Command {
	return createControlCmd(relaynats.ActionStart, "Ask the running controller to start the worker now")
}

// CreateStopCmd creates the stop command.
func CreateStopCmd() *cobra.Command {
	return createControlCmd(relaynats.ActionStop, "Ask the running controller to stop the worker")
}

func createControlCmd(action, short string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := controllerURL(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()
			return sendControl(ctx, cmd.OutOrStdout(), url, action, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded in the controller log")
	return cmd
}

func sendControl(ctx context.Context, w io.Writer, url, action, reason string) error {
	reply, err := relaynats.Request(ctx, url, action, reason)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%s failed: %s (worker %s)", action, reply.Error, reply.Status)
	}

	if reply.PID != 0 {
		_, err = fmt.Fprintf(w, "worker %s (pid %d, run %s)\n", reply.Status, reply.PID, reply.RunID)
	} else {
		_, err = fmt.Fprintf(w, "worker %s\n", reply.Status)
	}
	return err
}
