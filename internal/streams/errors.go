package streams

import "errors"

var (
	// ErrInvalidConfig wraps every RunConfig validation failure.
	ErrInvalidConfig = errors.New("invalid stream configuration")

	// ErrNoMedia is returned when neither a media key nor a playlist is configured.
	ErrNoMedia = errors.New("no media configured")
)
