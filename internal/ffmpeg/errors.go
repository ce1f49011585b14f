package ffmpeg

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Encoder.Run when Stop ended the process.
var ErrStopped = errors.New("encoder stopped")

// EncoderError reports an abnormal encoder exit.
type EncoderError struct {
	ExitCode int
	Detail   string // extracted failure message or the last output line
}

func (e *EncoderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("encoder exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.Detail)
}
