package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/relaycast/internal/streams"
)

// CreateConfigCmd creates the config command with show and set subcommands.
func CreateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the stream configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stream configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.OutOrStdout(), openStore(cmd))
		},
	})

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change stream configuration fields",
		Long: `Updates only the fields whose flags are given, validates the result and saves it. ` +
			`A running controller picks the change up on its next reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setConfig(cmd.OutOrStdout(), openStore(cmd), cmd.Flags())
		},
	}
	addConfigFlags(setCmd.Flags())
	cmd.AddCommand(setCmd)

	return cmd
}

var errNothingToSet = errors.New("nothing to set, pass at least one field flag")

var configFlagNames = []string{
	"media", "playlist", "rtmp-url", "loop", "loop-delay", "playlist-delay",
	"on-error", "always-on", "schedule", "start-time", "duration-hours",
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.String("media", "", "Single media key (clears the playlist)")
	flags.StringSlice("playlist", nil, "Comma-separated media keys (clears the single key)")
	flags.String("rtmp-url", "", "Ingest base URL without the stream key")
	flags.Bool("loop", false, "Restart the item or playlist when it completes")
	flags.Int("loop-delay", 0, "Seconds to pause before a loop restart")
	flags.Int("playlist-delay", 0, "Seconds to pause between playlist items")
	flags.String("on-error", "", "Playlist policy for a failed item (skip, abort)")
	flags.Bool("always-on", false, "Keep the worker running and restart it after failures")
	flags.Bool("schedule", false, "Enable the daily start/stop window")
	flags.String("start-time", "", "Daily start time, HH:MM")
	flags.Float64("duration-hours", 0, "Hours to stream after a scheduled start")
}

func loadOrDefault(st streams.Store) (*streams.RunConfig, error) {
	cfg, err := st.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		def := streams.DefaultRunConfig()
		cfg = &def
	}
	return cfg, nil
}

func showConfig(w io.Writer, st streams.Store) error {
	cfg, err := loadOrDefault(st)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func setConfig(w io.Writer, st streams.Store, flags *pflag.FlagSet) error {
	cfg, err := loadOrDefault(st)
	if err != nil {
		return err
	}

	changed := false
	for _, name := range configFlagNames {
		changed = changed || flags.Changed(name)
	}
	if !changed {
		return errNothingToSet
	}

	if err := applyConfigFlags(cfg, flags); err != nil {
		return err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := st.SaveConfig(cfg); err != nil {
		return err
	}

	return showConfig(w, st)
}

// applyConfigFlags copies every explicitly set flag onto cfg.
func applyConfigFlags(cfg *streams.RunConfig, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("media", func() error {
		v, e := flags.GetString("media")
		cfg.MediaKey, cfg.Playlist = v, nil
		return e
	})
	set("playlist", func() error {
		v, e := flags.GetStringSlice("playlist")
		cfg.Playlist, cfg.MediaKey = v, ""
		return e
	})
	set("rtmp-url", func() (e error) { cfg.RTMPURL, e = flags.GetString("rtmp-url"); return })
	set("loop", func() (e error) { cfg.Loop, e = flags.GetBool("loop"); return })
	set("loop-delay", func() (e error) { cfg.LoopDelaySeconds, e = flags.GetInt("loop-delay"); return })
	set("playlist-delay", func() (e error) { cfg.PlaylistDelaySeconds, e = flags.GetInt("playlist-delay"); return })
	set("on-error", func() error {
		v, e := flags.GetString("on-error")
		cfg.OnItemError = streams.ErrorPolicy(v)
		return e
	})
	set("always-on", func() (e error) { cfg.AlwaysOn, e = flags.GetBool("always-on"); return })
	set("schedule", func() (e error) { cfg.Schedule.Enabled, e = flags.GetBool("schedule"); return })
	set("start-time", func() (e error) { cfg.Schedule.StartTime, e = flags.GetString("start-time"); return })
	set("duration-hours", func() (e error) { cfg.Schedule.DurationHours, e = flags.GetFloat64("duration-hours"); return })

	return err
}
