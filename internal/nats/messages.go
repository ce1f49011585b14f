package nats

import (
	"time"

	"github.com/goccy/go-json"
)

// Subjects.
const (
	SubjectEventsPrefix  = "relaycast.events"
	SubjectControlPrefix = "relaycast.control"

	SubjectStatus     = SubjectEventsPrefix + ".status"
	SubjectConnection = SubjectEventsPrefix + ".connection"
	SubjectSchedule   = SubjectEventsPrefix + ".schedule"
	SubjectOrphans    = SubjectEventsPrefix + ".orphans"
)

// Control actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionStatus = "status"
)

// SubjectControl returns the request subject for action.
func SubjectControl(action string) string {
	return SubjectControlPrefix + "." + action
}

// ControlRequest is the body of a control request. The action is taken
// from the subject.
type ControlRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlRequest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlReply answers a control request.
type ControlReply struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Status    string    `json:"status,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalControl deserializes a ControlRequest. An empty body is a
// request without a reason.
func UnmarshalControl(data []byte) (ControlRequest, error) {
	var m ControlRequest
	if len(data) == 0 {
		return m, nil
	}
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalReply deserializes a ControlReply.
func UnmarshalReply(data []byte) (ControlReply, error) {
	var m ControlReply
	err := json.Unmarshal(data, &m)
	return m, err
}
