package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrControllerUnavailable is returned when no controller answers.
var ErrControllerUnavailable = errors.New("controller not reachable over NATS")

// Request sends a control request and waits for the reply.
func Request(ctx context.Context, url, action, reason string) (ControlReply, error) {
	conn, err := nats.Connect(url,
		nats.Name("relaycast-cli"),
		nats.Timeout(2*time.Second),
	)
	if err != nil {
		return ControlReply{}, fmt.Errorf("%w: %w", ErrControllerUnavailable, err)
	}
	defer conn.Close()

	data, err := ControlRequest{Reason: reason}.Marshal()
	if err != nil {
		return ControlReply{}, err
	}

	msg, err := conn.RequestWithContext(ctx, SubjectControl(action), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return ControlReply{}, ErrControllerUnavailable
	}
	if err != nil {
		return ControlReply{}, fmt.Errorf("control request %s: %w", action, err)
	}

	return UnmarshalReply(msg.Data)
}
