package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/relaycast/cmd"
	"github.com/smazurov/relaycast/internal/config"
	"github.com/smazurov/relaycast/internal/daemon"
	"github.com/smazurov/relaycast/internal/logging"
	"github.com/smazurov/relaycast/internal/supervisor"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// State settings
	StateDir string `help:"Directory holding stream.toml and state.json" default:"/var/lib/relaycast" toml:"state.dir" env:"STATE_DIR"`

	// Metrics settings
	MetricsAddr string `help:"Listen address for /metrics and /healthz (empty disables)" default:":9464" toml:"metrics.addr" env:"METRICS_ADDR"`

	// NATS settings
	NatsURL  string `help:"External NATS server for events and control (empty embeds one)" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsPort int    `help:"Port of the embedded NATS server on 127.0.0.1 (0 disables NATS)" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Worker settings
	FfmpegPath           string `help:"Path to the ffmpeg binary" default:"ffmpeg" toml:"ffmpeg.path" env:"FFMPEG_PATH"`
	WorkerMaxRetries     int    `help:"Encoder attempts per item before giving up" default:"3" toml:"worker.max_retries" env:"WORKER_MAX_RETRIES"`
	WorkerStopTimeout    int    `help:"Seconds to wait after SIGTERM before killing the worker" default:"10" toml:"worker.stop_timeout_seconds" env:"WORKER_STOP_TIMEOUT"`
	WorkerHealthInterval int    `help:"Seconds between worker health checks" default:"30" toml:"worker.health_interval_seconds" env:"WORKER_HEALTH_INTERVAL"`

	// Scheduler settings
	SchedulerInterval int `help:"Seconds between schedule evaluations" default:"60" toml:"scheduler.interval_seconds" env:"SCHEDULER_INTERVAL"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingScheduler  string `help:"Scheduler logging level" default:"info" toml:"logging.scheduler" env:"LOGGING_SCHEDULER"`
	LoggingWorker     string `help:"Worker output logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingFfmpeg     string `help:"Forwarded ffmpeg output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingStore      string `help:"Store logging level" default:"info" toml:"logging.store" env:"LOGGING_STORE"`
	LoggingNats       string `help:"NATS bridge logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		// Everything is built in OnStart: this callback also runs before
		// subcommands, and the worker's stdout must stay clean.
		hooks.OnStart(func() {
			defer close(done)

			if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
				slog.Warn("Failed to load config", "error", loadErr)
			}

			logging.Initialize(logging.Config{
				Level:  opts.LoggingLevel,
				Format: opts.LoggingFormat,
				Modules: map[string]string{
					"supervisor": opts.LoggingSupervisor,
					"scheduler":  opts.LoggingScheduler,
					"worker":     opts.LoggingWorker,
					"ffmpeg":     opts.LoggingFfmpeg,
					"store":      opts.LoggingStore,
					"nats":       opts.LoggingNats,
				},
			})
			logger := logging.GetLogger("main")

			if os.Getenv(supervisor.StreamKeyEnv) == "" {
				logger.Warn("Stream key not set, workers cannot start", "env", supervisor.StreamKeyEnv)
			}

			d := daemon.New(daemon.Config{
				StateDir:     opts.StateDir,
				MetricsAddr:  opts.MetricsAddr,
				TickInterval: seconds(opts.SchedulerInterval),
				NatsURL:      opts.NatsURL,
				NatsPort:     opts.NatsPort,
				Supervisor: supervisor.Options{
					StreamKey:      os.Getenv(supervisor.StreamKeyEnv),
					FFmpegPath:     opts.FfmpegPath,
					MaxRetries:     opts.WorkerMaxRetries,
					HealthInterval: seconds(opts.WorkerHealthInterval),
					StopTimeout:    seconds(opts.WorkerStopTimeout),
				},
			})

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				// No-op outside systemd.
				if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
					logger.Debug("sd_notify failed", "error", err)
				}
				<-sigCtx.Done()
				_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
			}()

			if err := d.Run(sigCtx); err != nil {
				logger.Error("Controller exited with error", "error", err)
				os.Exit(1)
			}
			logger.Info("Controller stopped")
		})

		hooks.OnStop(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * supervisor.DefaultStopTimeout):
			}
		})
	})

	cli.Root().Use = "relaycast"
	cli.Root().Short = "Stream media from object storage to an RTMP ingest"

	cli.Root().AddCommand(cmd.CreateWorkerCmd())
	cli.Root().AddCommand(cmd.CreateConfigCmd())
	cli.Root().AddCommand(cmd.CreateStatusCmd())
	cli.Root().AddCommand(cmd.CreateStartCmd())
	cli.Root().AddCommand(cmd.CreateStopCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
