package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeWorkerStatusChanged uint32 = iota + 1
	TypeConnectionStateChanged
	TypeScheduleAction
	TypeOrphanCleanup
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// WorkerStatusChangedEvent is published on every persisted status transition.
type WorkerStatusChangedEvent struct {
	RunID        string    `json:"run_id"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	PID          int       `json:"pid,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Type returns the event type identifier for WorkerStatusChangedEvent.
func (e WorkerStatusChangedEvent) Type() uint32 { return TypeWorkerStatusChanged }

// ConnectionStateChangedEvent reports a tracker transition seen in forwarded encoder output.
type ConnectionStateChangedEvent struct {
	RunID        string    `json:"run_id"`
	OldState     string    `json:"old_state"`
	NewState     string    `json:"new_state"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ConnectionStateChangedEvent.
func (e ConnectionStateChangedEvent) Type() uint32 { return TypeConnectionStateChanged }

// Schedule actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// ScheduleActionEvent is published when the scheduler issues a start or stop.
type ScheduleActionEvent struct {
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ScheduleActionEvent.
func (e ScheduleActionEvent) Type() uint32 { return TypeScheduleAction }

// OrphanCleanupEvent reports the result of startup orphan cleanup.
type OrphanCleanupEvent struct {
	PID        int       `json:"pid"`
	Matched    bool      `json:"matched"`
	Terminated bool      `json:"terminated"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for OrphanCleanupEvent.
func (e OrphanCleanupEvent) Type() uint32 { return TypeOrphanCleanup }
