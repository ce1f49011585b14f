package streams

import (
	"slices"
	"time"
)

// WorkerStatus is the supervisor-level status of a worker run.
// Within a run it only moves forward: stopped -> starting -> streaming|failed -> stopped|error.
type WorkerStatus string

// Worker statuses.
const (
	StatusStopped   WorkerStatus = "stopped"
	StatusStarting  WorkerStatus = "starting"
	StatusStreaming WorkerStatus = "streaming"
	StatusFailed    WorkerStatus = "failed" // ingest failure seen in encoder output; worker is torn down
	StatusError     WorkerStatus = "error"  // worker exited on its own with a non-zero code
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []WorkerStatus{StatusStopped, StatusStarting, StatusStreaming, StatusFailed, StatusError}

// Terminal reports whether the status ends the current run.
func (s WorkerStatus) Terminal() bool {
	return s == StatusFailed || s == StatusError
}

// Active reports whether a worker is expected to be alive in this status.
func (s WorkerStatus) Active() bool {
	return s == StatusStarting || s == StatusStreaming
}

// ErrorPolicy controls what a playlist run does with an item that exhausted its retries.
type ErrorPolicy string

// Playlist error policies.
const (
	PolicySkip  ErrorPolicy = "skip"
	PolicyAbort ErrorPolicy = "abort"
)

// Schedule is the daily start/stop window.
type Schedule struct {
	// Enabled turns the daily window on.
	Enabled bool `toml:"enabled" json:"enabled"`

	// StartTime is the local wall-clock start in HH:MM (24h).
	// Malformed values fall back to 09:00 when the scheduler parses them.
	StartTime string `toml:"start_time" json:"start_time"`

	// DurationHours is how long the stream runs after a scheduled start.
	DurationHours float64 `toml:"duration_hours" json:"duration_hours" validate:"gte=0.5,lte=24"`
}

// Duration returns the window length.
func (s Schedule) Duration() time.Duration {
	return time.Duration(s.DurationHours * float64(time.Hour))
}

// RunConfig is the persisted stream configuration.
// At most one of MediaKey or Playlist is set; Items() is the normalized view.
type RunConfig struct {
	// RTMPURL is the ingest base URL without the stream key.
	// Example: "rtmp://a.rtmp.youtube.com/live2"
	RTMPURL string `toml:"rtmp_url" json:"rtmp_url" validate:"required,url,startswith=rtmp"`

	// MediaKey is a single object key in the storage bucket.
	MediaKey string `toml:"media_key,omitempty" json:"media_key,omitempty"`

	// Playlist is an ordered list of object keys streamed as one run.
	Playlist []string `toml:"playlist,omitempty" json:"playlist,omitempty" validate:"omitempty,dive,required"`

	// Loop restarts the item (or the whole playlist) when it completes.
	Loop bool `toml:"loop" json:"loop"`

	// LoopDelaySeconds is the pause before a loop restart.
	LoopDelaySeconds int `toml:"loop_delay_seconds" json:"loop_delay_seconds" validate:"gte=0"`

	// PlaylistDelaySeconds is the pause between playlist items.
	PlaylistDelaySeconds int `toml:"playlist_delay_seconds" json:"playlist_delay_seconds" validate:"gte=0"`

	// OnItemError is the playlist policy for an item that exhausted its retries.
	OnItemError ErrorPolicy `toml:"on_item_error" json:"on_item_error" validate:"omitempty,oneof=skip abort"`

	Schedule Schedule `toml:"schedule" json:"schedule"`

	// AlwaysOn keeps the worker running regardless of the schedule and
	// restarts it after a failure.
	AlwaysOn bool `toml:"always_on" json:"always_on"`
}

// DefaultRunConfig returns the configuration used when none has been saved yet.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		RTMPURL:          "rtmp://a.rtmp.youtube.com/live2",
		LoopDelaySeconds: 5,
		OnItemError:      PolicySkip,
		Schedule: Schedule{
			StartTime:     "09:00",
			DurationHours: 8,
		},
	}
}

// Normalize fills zero values with defaults.
func (c *RunConfig) Normalize() {
	if c.OnItemError == "" {
		c.OnItemError = PolicySkip
	}
	if c.Schedule.StartTime == "" {
		c.Schedule.StartTime = "09:00"
	}
	if c.Schedule.DurationHours == 0 {
		c.Schedule.DurationHours = 8
	}
}

// Items returns the media keys of the run in order.
func (c *RunConfig) Items() []string {
	if len(c.Playlist) > 0 {
		return slices.Clone(c.Playlist)
	}
	if c.MediaKey != "" {
		return []string{c.MediaKey}
	}
	return nil
}

// IsPlaylist reports whether the run streams a list of items.
func (c *RunConfig) IsPlaylist() bool {
	return len(c.Playlist) > 0
}

// HasMedia reports whether anything is configured to stream.
func (c *RunConfig) HasMedia() bool {
	return c.MediaKey != "" || len(c.Playlist) > 0
}

// LoopDelay returns the pause between loop iterations.
func (c *RunConfig) LoopDelay() time.Duration {
	return time.Duration(c.LoopDelaySeconds) * time.Second
}

// PlaylistDelay returns the pause between playlist items.
func (c *RunConfig) PlaylistDelay() time.Duration {
	return time.Duration(c.PlaylistDelaySeconds) * time.Second
}

// Policy returns the effective playlist error policy.
func (c *RunConfig) Policy() ErrorPolicy {
	if c.OnItemError == "" {
		return PolicySkip
	}
	return c.OnItemError
}

// RunState is the persisted record of the current or last worker run.
// The supervisor is its only writer.
type RunState struct {
	Status WorkerStatus `json:"status"`

	// RunID identifies one start of the worker; log lines carry it as run_id.
	RunID string `json:"run_id,omitempty"`

	WorkerPID       *int       `json:"worker_pid,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ExitedAt        *time.Time `json:"exited_at,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`

	// ErrorMessage is a short human-readable cause.
	ErrorMessage string `json:"error_message,omitempty"`

	// MediaKey is the item currently streaming, for display.
	MediaKey string `json:"media_key,omitempty"`

	// CurrentIndex is the playlist item being streamed.
	CurrentIndex int `json:"current_index"`

	// Completed lists playlist items finished in the current pass.
	Completed []string `json:"completed,omitempty"`

	// LastScheduledStartDate is the local date (YYYY-MM-DD) of the last start.
	LastScheduledStartDate string `json:"last_scheduled_start_date,omitempty"`
}

// DateLayout formats LastScheduledStartDate.
const DateLayout = "2006-01-02"

// NewRunState returns the default record used when nothing is persisted.
func NewRunState() *RunState {
	return &RunState{Status: StatusStopped}
}

// Uptime returns how long the run has been active, or zero when it is not.
func (s *RunState) Uptime(now time.Time) time.Duration {
	if !s.Status.Active() || s.StartedAt == nil {
		return 0
	}
	return now.Sub(*s.StartedAt)
}

// EndedAbnormally reports whether the last run ended on its own with an
// error or was torn down after an ingest failure.
func (s *RunState) EndedAbnormally() bool {
	return s.Status.Terminal() || (s.Status == StatusStopped && s.ErrorMessage != "")
}
