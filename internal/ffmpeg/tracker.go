package ffmpeg

import "sync"

// ConnectionState is the tracked state of one encoder session.
type ConnectionState string

// Connection states.
const (
	StateUnknown    ConnectionState = "unknown"
	StateConnecting ConnectionState = "connecting"
	StateStreaming  ConnectionState = "streaming"
	StateFailed     ConnectionState = "failed"
)

// MaxLogLines is the capacity of the tracker's line buffer.
const MaxLogLines = 500

// StateChange is reported by Tracker.AddLine when the state moves to
// streaming or failed.
type StateChange struct {
	From         ConnectionState
	To           ConnectionState
	ErrorMessage string // set when To is StateFailed
}

// Tracker folds classified lines into a sticky connection state.
// Failed never clears and streaming never regresses until Reset.
type Tracker struct {
	mu       sync.Mutex
	state    ConnectionState
	errorMsg string
	lines    *ring[string]
}

// NewTracker returns a tracker in StateUnknown.
func NewTracker() *Tracker {
	return &Tracker{
		state: StateUnknown,
		lines: newRing[string](MaxLogLines),
	}
}

// AddLine records the line and returns a change when it moved the state to
// streaming or failed. A connecting signal is adopted silently from unknown.
func (t *Tracker) AddLine(line string) (StateChange, bool) {
	if line == "" {
		return StateChange{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines.push(line)

	if t.state == StateFailed {
		return StateChange{}, false
	}

	switch Classify(line) {
	case SignalFailed:
		change := StateChange{From: t.state, To: StateFailed, ErrorMessage: ExtractError(line)}
		t.state = StateFailed
		t.errorMsg = change.ErrorMessage
		return change, true
	case SignalStreaming:
		if t.state == StateStreaming {
			return StateChange{}, false
		}
		change := StateChange{From: t.state, To: StateStreaming}
		t.state = StateStreaming
		return change, true
	case SignalConnecting:
		if t.state == StateUnknown {
			t.state = StateConnecting
		}
	}

	return StateChange{}, false
}

// State returns the current state and the captured error message.
func (t *Tracker) State() (ConnectionState, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.errorMsg
}

// Lines returns the buffered lines, oldest first.
func (t *Tracker) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines.snapshot()
}

// LastLine returns the most recent buffered line.
func (t *Tracker) LastLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	line, _ := t.lines.last()
	return line
}

// Reset clears state, buffer and error for a new run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateUnknown
	t.errorMsg = ""
	t.lines.reset()
}
