package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/config"
	"github.com/smazurov/relaycast/internal/streams/store"
)

// DefaultStateDir is used when neither the flag, the config file nor the
// environment names one.
const DefaultStateDir = "/var/lib/relaycast"

// stateOptions locates the store the same way the controller does.
type stateOptions struct {
	Config   string
	StateDir string `toml:"state.dir" env:"STATE_DIR"`
}

// openStore resolves the state directory from the inherited --config and
// --state-dir flags, the config file and RELAYCAST_STATE_DIR.
func openStore(cmd *cobra.Command) *store.FileStore {
	opts := stateOptions{Config: "config.toml", StateDir: DefaultStateDir}
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		opts.Config = v
	}
	if v, err := cmd.Flags().GetString("state-dir"); err == nil && v != "" {
		opts.StateDir = v
	}
	_ = config.LoadConfig(&opts, cmd)
	return store.NewFile(opts.StateDir)
}
