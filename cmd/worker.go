package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/config"
	"github.com/smazurov/relaycast/internal/logging"
	"github.com/smazurov/relaycast/internal/storage"
	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/worker"
)

// WorkerOptions are the worker settings. StreamKey has no flag on purpose:
// it is read from RELAYCAST_STREAM_KEY so it never shows up in argv.
type WorkerOptions struct {
	Config        string
	Media         string
	RtmpURL       string
	Loop          bool
	LoopDelay     time.Duration
	PlaylistDelay time.Duration
	OnError       string
	MaxRetries    int    `toml:"worker.max_retries" env:"WORKER_MAX_RETRIES"`
	Ffmpeg        string `toml:"ffmpeg.path" env:"FFMPEG_PATH"`
	StreamKey     string `env:"STREAM_KEY"`
}

// workerLogging is the env-overridable part of the worker's logging config.
type workerLogging struct {
	Level  string `env:"LOGGING_LEVEL"`
	Format string `env:"LOGGING_FORMAT"`
}

// CreateWorkerCmd creates the worker command.
func CreateWorkerCmd() *cobra.Command {
	opts := &WorkerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Stream media items to the ingest endpoint",
		Long: `Runs the retry and sequencing engine for one item or a playlist. ` +
			`Started by the controller; stdout carries the line protocol and logs go to stderr.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if path, err := cmd.Flags().GetString("config"); err == nil {
				opts.Config = path
			}
			if err := config.LoadConfig(opts, cmd); err != nil {
				fmt.Fprintln(os.Stderr, "Failed to load config:", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			code := RunWorker(ctx, opts, os.Stdout, os.Stderr)
			stop()
			os.Exit(code)
		},
	}

	cmd.Flags().StringVar(&opts.Media, "media", "", "Media key, or a JSON array of keys for a playlist")
	cmd.Flags().StringVar(&opts.RtmpURL, "rtmp-url", "", "Ingest base URL without the stream key")
	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "Restart the item or playlist when it completes")
	cmd.Flags().DurationVar(&opts.LoopDelay, "loop-delay", 5*time.Second, "Pause before a loop restart")
	cmd.Flags().DurationVar(&opts.PlaylistDelay, "playlist-delay", 0, "Pause between playlist items")
	cmd.Flags().StringVar(&opts.OnError, "on-error", string(streams.PolicySkip), "Playlist policy for a failed item (skip, abort)")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", worker.DefaultMaxRetries, "Encoder attempts per item")
	cmd.Flags().StringVar(&opts.Ffmpeg, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	_ = cmd.MarkFlagRequired("media")
	_ = cmd.MarkFlagRequired("rtmp-url")

	return cmd
}

// RunWorker runs the engine and returns the process exit code.
// Protocol lines go to stdout, logs to stderr.
func RunWorker(ctx context.Context, opts *WorkerOptions, stdout, stderr io.Writer) int {
	logCfg := config.LoadLoggingConfig(opts.Config)
	envLog := workerLogging{Level: logCfg.Level, Format: logCfg.Format}
	config.LoadEnv(&envLog, config.EnvPrefix)
	logCfg.Level = envLog.Level
	logCfg.Format = envLog.Format
	logCfg.Writer = stderr
	logging.Initialize(logCfg)

	logger := logging.GetLogger("worker")

	if opts.StreamKey == "" {
		logger.Error("Stream key not set", "env", config.EnvPrefix+"STREAM_KEY")
		return worker.ExitFailure
	}

	items, err := streams.ParseMediaArg(opts.Media)
	if err != nil {
		logger.Error("Invalid --media", "error", err)
		return worker.ExitFailure
	}

	runCfg := streams.RunConfig{
		RTMPURL:     opts.RtmpURL,
		OnItemError: streams.ErrorPolicy(opts.OnError),
	}
	runCfg.Normalize()
	if isPlaylistArg(opts.Media) {
		runCfg.Playlist = items
	} else {
		runCfg.MediaKey = items[0]
	}
	if err := runCfg.Validate(); err != nil {
		logger.Error("Invalid worker options", "error", err)
		return worker.ExitFailure
	}

	client, err := storage.New(storage.ConfigFromEnv())
	if err != nil {
		logger.Error("Storage is not configured", "error", err)
		return worker.ExitFailure
	}

	reporter := worker.NewReporter(stdout)
	streamer := worker.NewEncoderStreamer(client, opts.Ffmpeg, opts.RtmpURL, opts.StreamKey, reporter, logging.GetLogger("encoder"))

	engineOpts := worker.OptionsFromConfig(&runCfg, opts.MaxRetries)
	engineOpts.LoopDelay = opts.LoopDelay
	engineOpts.PlaylistDelay = opts.PlaylistDelay
	engineOpts.Loop = opts.Loop

	logger.Info("Worker starting",
		"items", len(items),
		"playlist", engineOpts.Playlist,
		"loop", engineOpts.Loop,
		"pid", os.Getpid())

	code := worker.NewEngine(engineOpts, streamer, reporter, logger).Run(ctx)
	logger.Info("Worker exiting", "exit_code", code)
	return code
}

func isPlaylistArg(media string) bool {
	return strings.HasPrefix(strings.TrimSpace(media), "[")
}
