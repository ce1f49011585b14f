// Package daemon wires the controller: store, supervisor, scheduler,
// config watcher, metrics server and NATS bridge under one suture tree.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/smazurov/relaycast/internal/config"
	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/logging"
	"github.com/smazurov/relaycast/internal/metrics"
	"github.com/smazurov/relaycast/internal/metrics/collectors"
	"github.com/smazurov/relaycast/internal/metrics/exporters"
	relaynats "github.com/smazurov/relaycast/internal/nats"
	"github.com/smazurov/relaycast/internal/scheduler"
	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/streams/store"
	"github.com/smazurov/relaycast/internal/supervisor"
	"github.com/smazurov/relaycast/internal/version"
)

// Config configures the daemon.
type Config struct {
	// StateDir holds stream.toml and state.json.
	StateDir string

	// MetricsAddr is the listen address for /metrics and /healthz.
	// Empty disables the server.
	MetricsAddr string

	Supervisor supervisor.Options

	// TickInterval is the scheduler period; zero uses the default.
	TickInterval time.Duration

	// ReloadDebounce delays config reloads; zero uses the watcher default.
	ReloadDebounce time.Duration

	// ShutdownTimeout bounds how long each service may take to stop.
	ShutdownTimeout time.Duration

	// NatsURL points the event and control bridge at an external server.
	// When empty and NatsPort is set, a server is embedded on 127.0.0.1.
	NatsURL  string
	NatsPort int
}

// natsURL returns the bridge URL and whether the server is embedded.
func (c Config) natsURL() (string, bool) {
	if c.NatsURL != "" {
		return c.NatsURL, false
	}
	if c.NatsPort > 0 {
		return fmt.Sprintf("nats://127.0.0.1:%d", c.NatsPort), true
	}
	return "", false
}

// Daemon is the long-running controller.
type Daemon struct {
	cfg     Config
	store   *store.FileStore
	bus     *events.Bus
	sup     *supervisor.Supervisor
	sched   *scheduler.Scheduler
	watcher *config.FileWatcher[*streams.RunConfig]
	root    *suture.Supervisor
	logger  *slog.Logger
}

// New builds the service tree. Nothing runs until Run.
func New(cfg Config) *Daemon {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = supervisor.DefaultStopTimeout
	}

	logger := logging.GetLogger("main")
	st := store.NewFile(cfg.StateDir)
	bus := events.New()

	sup := supervisor.New(st, bus, cfg.Supervisor)
	sup.SetEncoderOutput(collectors.NewProgressCollector())

	d := &Daemon{
		cfg:    cfg,
		store:  st,
		bus:    bus,
		sup:    sup,
		sched:  scheduler.New(st, sup, bus, cfg.TickInterval),
		logger: logger,
	}

	d.watcher = config.NewFileWatcher(st.ConfigPath(), cfg.ReloadDebounce, st.LoadConfig, d.onConfigReload, logging.GetLogger("config"))

	handler := &sutureslog.Handler{Logger: logger}
	d.root = suture.New("relaycast", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   cfg.ShutdownTimeout,
	})
	d.root.Add(d.sched)
	d.root.Add(d.watcher)
	if cfg.MetricsAddr != "" {
		d.root.Add(exporters.NewServer(cfg.MetricsAddr, d.Health))
	}
	if url, embedded := cfg.natsURL(); url != "" {
		natsLogger := logging.GetLogger("nats")
		if embedded {
			d.root.Add(relaynats.NewServer(relaynats.ServerOptions{Port: cfg.NatsPort, Logger: natsLogger}))
		}
		d.root.Add(relaynats.NewBridge(url, bus, d, natsLogger))
	}

	return d
}

// Supervisor returns the worker supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.sup
}

// Store returns the durable store.
func (d *Daemon) Store() *store.FileStore {
	return d.store
}

// Bus returns the event bus.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Run cleans up orphans, serves the tree until ctx is done and then stops
// the worker.
func (d *Daemon) Run(ctx context.Context) error {
	unsubMetrics := metrics.Subscribe(d.bus)
	defer unsubMetrics()

	info := version.Get()
	metrics.SetBuildInfo(info.Version, info.GitCommit, info.GoVersion)

	d.sup.CleanupOrphans()

	d.logger.Info("Controller started",
		"version", info.Version,
		"state_dir", d.cfg.StateDir,
		"metrics_addr", d.cfg.MetricsAddr)

	err := d.root.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	d.logger.Info("Shutting down, stopping worker")
	if stopErr := d.sup.Close(); stopErr != nil {
		d.logger.Error("Failed to stop worker", "error", stopErr)
	}
	return err
}

// StartWorker starts the worker with the saved configuration.
func (d *Daemon) StartWorker() error {
	cfg, err := d.store.LoadConfig()
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.HasMedia() {
		return streams.ErrNoMedia
	}
	return d.sup.Start(cfg)
}

// StopWorker stops the running worker.
func (d *Daemon) StopWorker() error {
	return d.sup.Stop()
}

// WorkerState returns the persisted run state.
func (d *Daemon) WorkerState() (*streams.RunState, error) {
	return d.sup.Status()
}

func (d *Daemon) onConfigReload(cfg *streams.RunConfig) {
	if cfg == nil {
		return
	}
	d.logger.Info("Stream config reloaded",
		"items", len(cfg.Items()),
		"schedule", cfg.Schedule.Enabled,
		"always_on", cfg.AlwaysOn)
	d.sched.Poke()
}

// HealthReport is the /healthz document.
type HealthReport struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	Worker        streams.WorkerStatus    `json:"worker"`
	Running       bool                    `json:"running"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	Encoder       *metrics.EncoderMetrics `json:"encoder,omitempty"`
}

// Health reports the controller state. It is unhealthy only when the run
// state cannot be read.
func (d *Daemon) Health() (any, bool) {
	report := HealthReport{
		Status:  "ok",
		Version: version.Get().Version,
		Running: d.sup.Running(),
		Encoder: metrics.GetEncoderMetrics(),
	}

	state, err := d.sup.Status()
	if err != nil {
		report.Status = "error"
		report.ErrorMessage = err.Error()
		return report, false
	}
	report.Worker = state.Status
	report.UptimeSeconds = state.Uptime(time.Now()).Seconds()
	report.ErrorMessage = state.ErrorMessage
	return report, true
}
