package nats

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/streams"
)

// Controller executes control requests.
type Controller interface {
	StartWorker() error
	StopWorker() error
	WorkerState() (*streams.RunState, error)
}

// Bridge mirrors bus events to NATS and answers control requests.
type Bridge struct {
	url    string
	bus    *events.Bus
	ctrl   Controller
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	conn *nats.Conn
}

// NewBridge creates a bridge to the server at url.
func NewBridge(url string, bus *events.Bus, ctrl Controller, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:    url,
		bus:    bus,
		ctrl:   ctrl,
		logger: logger.With("component", "nats-bridge"),
		now:    time.Now,
	}
}

// Serve connects, subscribes and runs until ctx is done. The first connect
// is retried in the background so the bridge may start before the server.
func (b *Bridge) Serve(ctx context.Context) error {
	conn, err := nats.Connect(b.url,
		nats.Name("relaycast-controller"),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	unsubs := []func(){
		b.bus.Subscribe(func(e events.WorkerStatusChangedEvent) { b.publish(SubjectStatus, e) }),
		b.bus.Subscribe(func(e events.ConnectionStateChangedEvent) { b.publish(SubjectConnection, e) }),
		b.bus.Subscribe(func(e events.ScheduleActionEvent) { b.publish(SubjectSchedule, e) }),
		b.bus.Subscribe(func(e events.OrphanCleanupEvent) { b.publish(SubjectOrphans, e) }),
	}
	stopMirror := func() {
		for _, unsub := range unsubs {
			unsub()
		}
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}

	// Control is subscribed last: a control reply means events flow too.
	sub, err := conn.Subscribe(SubjectControlPrefix+".*", b.handleControl)
	if err != nil {
		stopMirror()
		conn.Close()
		return err
	}

	b.logger.Info("NATS bridge started", "url", b.url)
	<-ctx.Done()

	_ = sub.Unsubscribe()
	stopMirror()
	if err := conn.Drain(); err != nil {
		conn.Close()
	}

	b.logger.Info("NATS bridge stopped")
	return ctx.Err()
}

func (b *Bridge) publish(subject string, v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Debug("Failed to publish event", "subject", subject, "error", err)
	}
}

func (b *Bridge) handleControl(msg *nats.Msg) {
	action := strings.TrimPrefix(msg.Subject, SubjectControlPrefix+".")

	req, err := UnmarshalControl(msg.Data)
	var reply ControlReply
	if err != nil {
		reply.Error = "malformed request: " + err.Error()
	} else {
		b.logger.Info("Control request", "action", action, "reason", req.Reason)
		reply = b.apply(action)
	}
	reply.Timestamp = b.now()

	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal control reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to send control reply", "action", action, "error", err)
	}
}

func (b *Bridge) apply(action string) ControlReply {
	var err error
	switch action {
	case ActionStart:
		err = b.ctrl.StartWorker()
	case ActionStop:
		err = b.ctrl.StopWorker()
	case ActionStatus:
	default:
		err = errors.New("unknown action " + action)
	}

	reply := ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}

	state, stateErr := b.ctrl.WorkerState()
	if stateErr != nil {
		if reply.OK {
			reply.OK = false
			reply.Error = stateErr.Error()
		}
		return reply
	}
	reply.Status = string(state.Status)
	reply.RunID = state.RunID
	if state.WorkerPID != nil {
		reply.PID = *state.WorkerPID
	}
	return reply
}

func (b *Bridge) String() string {
	return "nats-bridge"
}
