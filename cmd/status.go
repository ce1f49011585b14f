package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/systemd"
)

// StatusReport is the persisted run state plus derived fields.
type StatusReport struct {
	*streams.RunState
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Service is the controller unit's ActiveState when systemd is reachable.
	Service string `json:"service,omitempty"`
}

// CreateStatusCmd creates the status command.
func CreateStatusCmd() *cobra.Command {
	var unit string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted worker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStatus(cmd.OutOrStdout(), openStore(cmd), time.Now(), unitState(cmd.Context(), unit))
		},
	}
	cmd.Flags().StringVar(&unit, "unit", systemd.DefaultUnit, "systemd unit of the controller (empty skips the lookup)")
	return cmd
}

// unitState looks the unit up over D-Bus and returns "" when that is not possible.
func unitState(ctx context.Context, unit string) string {
	if unit == "" {
		return ""
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	mgr, err := systemd.NewManager(ctx)
	if err != nil {
		return ""
	}
	defer mgr.Close()

	state, err := mgr.UnitState(ctx, unit)
	if err != nil {
		return ""
	}
	return state
}

func printStatus(w io.Writer, st streams.Store, now time.Time, service string) error {
	state, err := st.LoadState()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(StatusReport{
		RunState:      state,
		UptimeSeconds: int64(state.Uptime(now).Seconds()),
		Service:       service,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
