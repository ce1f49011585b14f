package worker

import (
	"context"
	"log/slog"

	"github.com/smazurov/relaycast/internal/ffmpeg"
	"github.com/smazurov/relaycast/internal/process"
)

// URLResolver turns a media key into a readable URL.
type URLResolver interface {
	StreamURL(ctx context.Context, key string) (string, error)
}

// EncoderStreamer streams items with ffmpeg.
type EncoderStreamer struct {
	resolver  URLResolver
	binary    string
	rtmpURL   string
	streamKey string
	output    process.OutputHandler
	logger    *slog.Logger
}

// NewEncoderStreamer creates a streamer that pushes to rtmpURL/streamKey.
// Encoder output lines are passed to output.
func NewEncoderStreamer(resolver URLResolver, binary, rtmpURL, streamKey string, output process.OutputHandler, logger *slog.Logger) *EncoderStreamer {
	return &EncoderStreamer{
		resolver:  resolver,
		binary:    binary,
		rtmpURL:   rtmpURL,
		streamKey: streamKey,
		output:    output,
		logger:    logger,
	}
}

// Stream resolves key and runs one encoder invocation for it.
// Storage errors are returned unchanged so the engine treats them as fatal.
func (s *EncoderStreamer) Stream(ctx context.Context, key string) error {
	inputURL, err := s.resolver.StreamURL(ctx, key)
	if err != nil {
		return err
	}

	enc := ffmpeg.NewEncoder(s.params(key, inputURL), s.logger, s.output)
	s.logger.Debug("Running encoder", "encoder", enc.String())
	return enc.Run(ctx)
}

func (s *EncoderStreamer) params(key, inputURL string) ffmpeg.Params {
	return ffmpeg.Params{
		Binary:    s.binary,
		InputURL:  inputURL,
		OutputURL: ffmpeg.DestinationURL(s.rtmpURL, s.streamKey),
		CopyCodec: ffmpeg.CanStreamCopy(key),
	}
}
