package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/relaycast/internal/storage"
	"github.com/smazurov/relaycast/internal/streams"
)

// Worker process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Streamer streams one media item to the destination and blocks until the
// encoder exits. A nil error means the item played to the end.
type Streamer interface {
	Stream(ctx context.Context, key string) error
}

// Progress receives playlist position updates.
type Progress interface {
	ItemStarted(index int, key string)
	ItemDone(index int, key string)
	PlaylistReset()
}

// Options configures an Engine.
type Options struct {
	Items         []string
	Playlist      bool
	Loop          bool
	LoopDelay     time.Duration
	PlaylistDelay time.Duration
	Policy        streams.ErrorPolicy
	MaxRetries    int
}

// OptionsFromConfig maps a run configuration onto engine options.
func OptionsFromConfig(cfg *streams.RunConfig, maxRetries int) Options {
	return Options{
		Items:         cfg.Items(),
		Playlist:      cfg.IsPlaylist(),
		Loop:          cfg.Loop,
		LoopDelay:     cfg.LoopDelay(),
		PlaylistDelay: cfg.PlaylistDelay(),
		Policy:        cfg.Policy(),
		MaxRetries:    maxRetries,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeExhausted
	outcomeFatal
	outcomeShutdown
)

// Engine decides after every encoder run whether to retry, loop, advance
// the playlist or finish.
type Engine struct {
	opts     Options
	streamer Streamer
	progress Progress
	sleep    SleepFunc
	logger   *slog.Logger
}

// NewEngine creates an engine. progress may be nil.
func NewEngine(opts Options, streamer Streamer, progress Progress, logger *slog.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Policy == "" {
		opts.Policy = streams.PolicySkip
	}
	return &Engine{
		opts:     opts,
		streamer: streamer,
		progress: progress,
		sleep:    Sleep,
		logger:   logger,
	}
}

// SetSleep replaces the wait function used for every delay.
func (e *Engine) SetSleep(fn SleepFunc) {
	e.sleep = fn
}

// Run executes the configured run and returns the process exit code.
// Cancelling ctx ends the run with ExitOK.
func (e *Engine) Run(ctx context.Context) int {
	if len(e.opts.Items) == 0 {
		e.logger.Error("No media to stream")
		return ExitFailure
	}
	if e.opts.Playlist {
		return e.runPlaylist(ctx)
	}
	return e.runSingle(ctx, e.opts.Items[0])
}

func (e *Engine) runSingle(ctx context.Context, key string) int {
	for {
		switch e.runItem(ctx, key) {
		case outcomeSuccess:
			if !e.opts.Loop {
				e.logger.Info("Stream completed", "key", key)
				return ExitOK
			}
			e.logger.Info("Stream completed, looping", "key", key, "delay", e.opts.LoopDelay)
			if e.sleep(ctx, e.opts.LoopDelay) != nil {
				return e.shutdown()
			}
		case outcomeShutdown:
			return e.shutdown()
		default:
			return ExitFailure
		}
	}
}

func (e *Engine) runPlaylist(ctx context.Context) int {
	items := e.opts.Items
	index := 0
	var completed []string

	for {
		if index >= len(items) {
			if !e.opts.Loop {
				e.logger.Info("Playlist completed", "completed", len(completed), "total", len(items))
				return ExitOK
			}

			e.logger.Info("Playlist completed, looping",
				"completed", len(completed), "total", len(items), "delay", e.opts.LoopDelay)
			index = 0
			completed = nil
			e.reportReset()
			if e.sleep(ctx, e.opts.LoopDelay) != nil {
				return e.shutdown()
			}
			continue
		}

		key := items[index]
		e.logger.Info("Playlist item starting", "index", index, "total", len(items), "key", key)
		e.reportItem(index, key)

		switch e.runItem(ctx, key) {
		case outcomeSuccess:
			completed = append(completed, key)
			e.reportDone(index, key)
			index++
			if index < len(items) && e.opts.PlaylistDelay > 0 {
				if e.sleep(ctx, e.opts.PlaylistDelay) != nil {
					return e.shutdown()
				}
			}
		case outcomeExhausted:
			if e.opts.Policy == streams.PolicyAbort {
				e.logger.Error("Playlist aborted", "index", index, "key", key)
				return ExitFailure
			}
			e.logger.Warn("Skipping playlist item", "index", index, "key", key)
			index++
		case outcomeFatal:
			return ExitFailure
		case outcomeShutdown:
			return e.shutdown()
		}
	}
}

// runItem streams key until it succeeds, runs out of attempts or the run ends.
func (e *Engine) runItem(ctx context.Context, key string) outcome {
	retries := 0
	for {
		err := e.streamer.Stream(ctx, key)
		if ctx.Err() != nil {
			return outcomeShutdown
		}
		if err == nil {
			return outcomeSuccess
		}
		if errors.Is(err, storage.ErrStorage) {
			e.logger.Error("Storage error", "key", key, "error", err)
			return outcomeFatal
		}

		retries++
		if retries >= e.opts.MaxRetries {
			e.logger.Error("Max retries reached", "key", key, "attempts", retries, "error", err)
			return outcomeExhausted
		}

		delay := BackoffDelay(retries)
		e.logger.Warn("Stream failed, retrying",
			"key", key, "attempt", retries, "max_retries", e.opts.MaxRetries,
			"delay", delay, "error", err)
		if e.sleep(ctx, delay) != nil {
			return outcomeShutdown
		}
	}
}

func (e *Engine) shutdown() int {
	e.logger.Info("Shutdown requested, exiting")
	return ExitOK
}

func (e *Engine) reportItem(index int, key string) {
	if e.progress != nil {
		e.progress.ItemStarted(index, key)
	}
}

func (e *Engine) reportDone(index int, key string) {
	if e.progress != nil {
		e.progress.ItemDone(index, key)
	}
}

func (e *Engine) reportReset() {
	if e.progress != nil {
		e.progress.PlaylistReset()
	}
}
