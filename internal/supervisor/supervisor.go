// Package supervisor owns the worker subprocess: it starts and stops it,
// polls its health, tails its output into a connection tracker and keeps
// the persisted RunState in step.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/ffmpeg"
	"github.com/smazurov/relaycast/internal/logging"
	"github.com/smazurov/relaycast/internal/process"
	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/worker"
)

// Precondition errors returned by Start and Stop.
var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
	ErrNoStreamKey    = errors.New("stream key not configured")
)

// StreamKeyEnv carries the secret stream key to the worker.
const StreamKeyEnv = "RELAYCAST_STREAM_KEY"

// WorkerCommand is the subcommand that runs the worker.
const WorkerCommand = "worker"

// Defaults for Options.
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultStopTimeout    = 10 * time.Second
	DefaultOrphanGrace    = 5 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	// Executable is the binary started with the worker subcommand.
	// Empty means the current executable.
	Executable string

	// StreamKey is passed to the worker through StreamKeyEnv only.
	StreamKey string

	// FFmpegPath and MaxRetries are forwarded as worker flags when set.
	FFmpegPath string
	MaxRetries int

	HealthInterval time.Duration
	StopTimeout    time.Duration
	OrphanGrace    time.Duration
}

// Supervisor manages at most one worker at a time.
type Supervisor struct {
	store  streams.Store
	bus    *events.Bus
	opts   Options
	logger *slog.Logger

	workerLogger  *slog.Logger
	ffmpegLogger  *slog.Logger
	encoderOutput process.OutputHandler
	inspector     inspector
	now           func() time.Time

	// mu guards run and every read-modify-write of the persisted state.
	mu  sync.Mutex
	run *run

	bg sync.WaitGroup
}

// run is one started worker.
type run struct {
	id      string
	pid     int
	proc    *process.Process
	tracker *ffmpeg.Tracker
	logger  *slog.Logger

	cancel    context.CancelFunc
	watchDone chan struct{}

	stopping bool
	stopped  chan struct{}
}

// New creates a supervisor. bus may be nil.
func New(store streams.Store, bus *events.Bus, opts Options) *Supervisor {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	return &Supervisor{
		store:        store,
		bus:          bus,
		opts:         opts,
		logger:       logging.GetLogger("supervisor"),
		workerLogger: logging.GetLogger("worker"),
		ffmpegLogger: logging.GetLogger("ffmpeg"),
		inspector:    newInspector(),
		now:          time.Now,
	}
}

// SetEncoderOutput registers a handler for forwarded encoder lines,
// e.g. a progress collector.
func (s *Supervisor) SetEncoderOutput(h process.OutputHandler) {
	s.encoderOutput = h
}

// Running reports whether a worker handle is held and not being stopped.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && !s.run.stopping
}

// Status returns the persisted run state.
func (s *Supervisor) Status() (*streams.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.LoadState()
}

// Start spawns a worker for cfg and records Starting.
func (s *Supervisor) Start(cfg *streams.RunConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return ErrAlreadyRunning
	}
	if s.opts.StreamKey == "" {
		return ErrNoStreamKey
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.HasMedia() {
		return streams.ErrNoMedia
	}

	args, err := s.workerArgs(cfg)
	if err != nil {
		return err
	}

	r := &run{
		id:        uuid.NewString(),
		tracker:   ffmpeg.NewTracker(),
		watchDone: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	r.logger = s.logger.With("run_id", r.id)

	proc := process.NewProcessWithOutput(WorkerCommand, args, r.logger,
		process.OutputFunc(func(source, line string) { s.handleOutput(r, source, line) }))
	proc.SetProcessGroup(true)
	proc.SetEnv([]string{StreamKeyEnv + "=" + s.opts.StreamKey})
	proc.SetTimeouts(s.opts.StopTimeout, 0)
	r.proc = proc

	if err := proc.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	r.pid = proc.Pid()

	state, err := s.store.LoadState()
	if err != nil {
		r.logger.Warn("Failed to load run state, starting fresh", "error", err)
		state = streams.NewRunState()
	}
	oldStatus := state.Status

	now := s.now()
	pid := r.pid
	items := cfg.Items()
	state.Status = streams.StatusStarting
	state.RunID = r.id
	state.WorkerPID = &pid
	state.StartedAt = &now
	state.ExitedAt = nil
	state.LastHealthCheck = nil
	state.ExitCode = nil
	state.ErrorMessage = ""
	state.MediaKey = items[0]
	state.CurrentIndex = 0
	state.Completed = nil
	state.LastScheduledStartDate = now.Format(streams.DateLayout)

	if err := s.store.SaveState(state); err != nil {
		r.logger.Error("Failed to save run state", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	s.run = r

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.watch(ctx, r)
	}()

	r.logger.Info("Worker started", "pid", pid, "items", len(items), "loop", cfg.Loop)
	s.publishStatus(r, oldStatus, state)
	return nil
}

// workerArgs builds the worker argv. The stream key is never part of it.
func (s *Supervisor) workerArgs(cfg *streams.RunConfig) ([]string, error) {
	media, err := cfg.MediaArg()
	if err != nil {
		return nil, err
	}

	args := []string{
		s.executable(), WorkerCommand,
		"--media", media,
		"--rtmp-url", cfg.RTMPURL,
		"--loop-delay", cfg.LoopDelay().String(),
		"--playlist-delay", cfg.PlaylistDelay().String(),
		"--on-error", string(cfg.Policy()),
	}
	if cfg.Loop {
		args = append(args, "--loop")
	}
	if s.opts.MaxRetries > 0 {
		args = append(args, "--max-retries", strconv.Itoa(s.opts.MaxRetries))
	}
	if s.opts.FFmpegPath != "" {
		args = append(args, "--ffmpeg", s.opts.FFmpegPath)
	}
	return args, nil
}

// executable returns the configured worker binary or the running one.
func (s *Supervisor) executable() string {
	if s.opts.Executable != "" {
		return s.opts.Executable
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// Stop terminates the worker and records Stopped. A concurrent Stop waits
// for the one in progress and returns nil.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if r.stopping {
		s.mu.Unlock()
		<-r.stopped
		return nil
	}
	r.stopping = true
	r.cancel()
	s.mu.Unlock()

	defer close(r.stopped)

	r.logger.Info("Stopping worker", "pid", r.pid)
	code := r.proc.Stop()
	<-r.watchDone
	s.killLeftovers(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = nil

	s.updateState(r, func(state *streams.RunState) {
		now := s.now()
		state.Status = streams.StatusStopped
		state.ExitedAt = &now
		state.ExitCode = &code
		state.WorkerPID = nil
	})

	r.logger.Info("Worker stopped", "exit_code", code)
	return nil
}

// Close stops a running worker and waits for background work.
func (s *Supervisor) Close() error {
	err := s.Stop()
	if errors.Is(err, ErrNotRunning) {
		err = nil
	}
	s.bg.Wait()
	return err
}

// watch polls health until the run ends and records an unexpected exit.
func (s *Supervisor) watch(ctx context.Context, r *run) {
	defer close(r.watchDone)

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.proc.Done():
			s.handleExit(r)
			return
		case <-ticker.C:
			if r.proc.Exited() {
				s.handleExit(r)
				return
			}
			s.healthCheck(r)
		}
	}
}

func (s *Supervisor) healthCheck(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || r.stopping {
		return
	}
	s.updateState(r, func(state *streams.RunState) {
		now := s.now()
		state.LastHealthCheck = &now
	})
}

// handleExit records a worker exit that Stop did not cause.
func (s *Supervisor) handleExit(r *run) {
	s.mu.Lock()
	if s.run != r || r.stopping {
		s.mu.Unlock()
		return
	}
	s.run = nil
	r.cancel()

	code := r.proc.ExitCode()
	s.updateState(r, func(state *streams.RunState) {
		now := s.now()
		state.ExitedAt = &now
		state.ExitCode = &code
		state.WorkerPID = nil

		switch {
		case state.Status == streams.StatusFailed:
			// Keep the ingest failure and its message.
		case code == 0:
			state.Status = streams.StatusStopped
		default:
			state.Status = streams.StatusError
			state.ErrorMessage = fmt.Sprintf("worker exited unexpectedly with code %d", code)
		}
	})
	s.mu.Unlock()

	if code == 0 {
		r.logger.Info("Worker finished")
	} else {
		r.logger.Error("Worker exited unexpectedly", "exit_code", code)
	}
	s.killLeftovers(r)
}

// handleOutput processes one line of worker output.
func (s *Supervisor) handleOutput(r *run, source, raw string) {
	if source == process.SourceStderr {
		s.workerLogger.Debug(raw, "run_id", r.id)
		return
	}

	line := worker.ParseLine(raw)
	switch line.Kind {
	case worker.LineEncoder:
		s.handleEncoderLine(r, line)
	case worker.LinePlaylistItem:
		s.withRun(r, func(state *streams.RunState) {
			state.CurrentIndex = line.Index
			state.MediaKey = line.Key
		})
	case worker.LinePlaylistDone:
		s.withRun(r, func(state *streams.RunState) {
			state.Completed = append(state.Completed, line.Key)
		})
	case worker.LinePlaylistReset:
		s.withRun(r, func(state *streams.RunState) {
			state.CurrentIndex = 0
			state.Completed = nil
		})
	default:
		s.workerLogger.Debug(raw, "run_id", r.id)
	}
}

func (s *Supervisor) handleEncoderLine(r *run, line worker.Line) {
	level, msg := ffmpeg.ParseLogLevel(line.Text)
	if strings.HasPrefix(msg, "frame=") || strings.HasPrefix(msg, "size=") {
		level = slog.LevelDebug
	}
	s.ffmpegLogger.Log(context.Background(), level, msg, "run_id", r.id)

	if s.encoderOutput != nil {
		s.encoderOutput.HandleLine(line.Source, line.Text)
	}

	change, ok := r.tracker.AddLine(line.Text)
	if !ok {
		return
	}

	s.bus.Publish(events.ConnectionStateChangedEvent{
		RunID:        r.id,
		OldState:     string(change.From),
		NewState:     string(change.To),
		ErrorMessage: change.ErrorMessage,
		Timestamp:    s.now(),
	})

	switch change.To {
	case ffmpeg.StateStreaming:
		s.withRun(r, func(state *streams.RunState) {
			if !state.Status.Terminal() {
				state.Status = streams.StatusStreaming
			}
		})
		r.logger.Info("Worker is streaming")

	case ffmpeg.StateFailed:
		failed := false
		s.withRun(r, func(state *streams.RunState) {
			state.Status = streams.StatusFailed
			state.ErrorMessage = change.ErrorMessage
			failed = true
		})
		if !failed {
			return
		}
		r.logger.Error("Ingest failure detected, stopping worker", "error", change.ErrorMessage)

		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				r.logger.Error("Failed to stop worker after ingest failure", "error", err)
			}
		}()
	}
}

// withRun applies update while r is the live run.
func (s *Supervisor) withRun(r *run, update func(*streams.RunState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || r.stopping {
		return
	}
	s.updateState(r, update)
}

// updateState performs a read-modify-write of the run state and publishes
// a status event when the status changed. Callers hold mu.
func (s *Supervisor) updateState(r *run, update func(*streams.RunState)) {
	state, err := s.store.LoadState()
	if err != nil {
		r.logger.Error("Failed to load run state", "error", err)
		return
	}
	oldStatus := state.Status
	update(state)

	if err := s.store.SaveState(state); err != nil {
		r.logger.Error("Failed to save run state", "error", err)
		return
	}
	if state.Status != oldStatus {
		s.publishStatus(r, oldStatus, state)
	}
}

func (s *Supervisor) publishStatus(r *run, old streams.WorkerStatus, state *streams.RunState) {
	ev := events.WorkerStatusChangedEvent{
		RunID:        r.id,
		OldStatus:    string(old),
		NewStatus:    string(state.Status),
		ExitCode:     state.ExitCode,
		ErrorMessage: state.ErrorMessage,
		Timestamp:    s.now(),
	}
	if state.WorkerPID != nil {
		ev.PID = *state.WorkerPID
	}
	s.bus.Publish(ev)
}
