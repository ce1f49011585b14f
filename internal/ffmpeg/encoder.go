package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/relaycast/internal/process"
)

// ShutdownTimeout bounds the graceful stop before the encoder is killed.
const ShutdownTimeout = 10 * time.Second

// Encoder runs one ffmpeg invocation and feeds its output through a Tracker.
type Encoder struct {
	params          Params
	logger          *slog.Logger
	output          process.OutputHandler
	tracker         *Tracker
	gracefulTimeout time.Duration

	mu   sync.Mutex
	proc *process.Process
}

// NewEncoder prepares an encoder. Every output line is recorded by the
// tracker and then passed to output, which may be nil.
func NewEncoder(params Params, logger *slog.Logger, output process.OutputHandler) *Encoder {
	return &Encoder{
		params:          params,
		logger:          logger,
		output:          output,
		tracker:         NewTracker(),
		gracefulTimeout: ShutdownTimeout,
	}
}

// Tracker returns the connection tracker for this encoder.
func (e *Encoder) Tracker() *Tracker {
	return e.tracker
}

// Args returns the argv the encoder runs.
func (e *Encoder) Args() []string {
	return Args(&e.params)
}

// HandleLine implements process.OutputHandler.
func (e *Encoder) HandleLine(source, line string) {
	if change, ok := e.tracker.AddLine(line); ok {
		e.logger.Debug("Encoder connection state changed",
			"from", change.From, "to", change.To, "error", change.ErrorMessage)
	}
	if e.output != nil {
		e.output.HandleLine(source, line)
	}
}

// Run starts the encoder and blocks until it exits.
// It returns nil on exit code 0, ctx.Err() when ctx ended the run,
// ErrStopped after Stop, and an *EncoderError for any other exit.
func (e *Encoder) Run(ctx context.Context) error {
	proc := process.NewProcessWithOutput("ffmpeg", e.Args(), e.logger, e)
	proc.SetKillWithParent(true)
	proc.SetTimeouts(e.gracefulTimeout, 0)

	e.mu.Lock()
	if e.proc != nil {
		e.mu.Unlock()
		return process.ErrAlreadyStarted
	}
	e.proc = proc
	e.mu.Unlock()

	e.tracker.Reset()
	if err := proc.Start(); err != nil {
		return &EncoderError{ExitCode: -1, Detail: err.Error()}
	}

	e.logger.Info("Encoder started",
		"pid", proc.Pid(),
		"input", RedactURL(e.params.InputURL),
		"output", RedactURL(e.params.OutputURL),
		"copy", e.params.CopyCodec)

	select {
	case <-proc.Done():
	case <-ctx.Done():
		proc.Stop()
		return ctx.Err()
	}

	code := proc.ExitCode()
	if proc.StopRequested() {
		return ErrStopped
	}
	if code == 0 {
		e.logger.Info("Encoder finished")
		return nil
	}

	state, msg := e.tracker.State()
	if state != StateFailed || msg == "" {
		msg = truncate(e.tracker.LastLine(), maxErrorLen)
	}
	err := &EncoderError{ExitCode: code, Detail: msg}
	e.logger.Warn("Encoder exited abnormally", "exit_code", code, "detail", msg)
	return err
}

// Stop terminates a running encoder: SIGTERM, then SIGKILL after the
// shutdown timeout. It is a no-op when nothing is running.
func (e *Encoder) Stop() {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return
	}
	proc.Stop()
}

// String describes the encoder without secrets.
func (e *Encoder) String() string {
	return fmt.Sprintf("ffmpeg %s -> %s", RedactURL(e.params.InputURL), RedactURL(e.params.OutputURL))
}
