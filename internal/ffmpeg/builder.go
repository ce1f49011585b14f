package ffmpeg

import (
	"slices"
	"strconv"
)

// DefaultBinary is the ffmpeg executable looked up on PATH.
const DefaultBinary = "ffmpeg"

// Base returns the leading argv shared by every invocation.
// Level-prefixed logging lets the supervisor map encoder lines to log levels.
func Base(binary string) []string {
	if binary == "" {
		binary = DefaultBinary
	}
	return []string{binary, "-nostdin", "-loglevel", "level+info"}
}

// Args builds the encoder argv from structured parameters.
func Args(p *Params) []string {
	opts := p.Options
	if opts == nil {
		opts = DefaultOptions
	}

	args := Base(p.Binary)

	// Input options
	if slices.Contains(opts, OptionRealtime) {
		args = append(args, "-re")
	}
	if slices.Contains(opts, OptionReconnect) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	args = append(args, "-i", p.InputURL)

	// Codecs
	if p.CopyCodec {
		args = append(args, "-c", "copy")
	} else {
		t := DefaultTranscode()
		if p.Transcode != nil {
			t = *p.Transcode
		}
		args = append(args, transcodeArgs(&t)...)
	}

	// Output options
	if slices.Contains(opts, OptionFlushPackets) {
		args = append(args, "-flush_packets", "1")
	}
	if slices.Contains(opts, OptionAvoidNegativeTS) {
		args = append(args, "-avoid_negative_ts", "make_zero")
	}

	return append(args, "-f", "flv", p.OutputURL)
}

func transcodeArgs(t *Transcode) []string {
	args := []string{"-c:v", t.VideoCodec}
	if t.Preset != "" {
		args = append(args, "-preset", t.Preset)
	}
	if t.VideoBitrate != "" {
		args = append(args, "-b:v", t.VideoBitrate)
	}
	if t.MaxRate != "" {
		args = append(args, "-maxrate", t.MaxRate)
	}
	if t.BufferSize != "" {
		args = append(args, "-bufsize", t.BufferSize)
	}
	if t.ForceKeyframeAtStart {
		args = append(args, "-force_key_frames", "expr:gte(t,0)")
	}

	args = append(args, "-c:a", t.AudioCodec)
	if t.AudioBitrate != "" {
		args = append(args, "-b:a", t.AudioBitrate)
	}
	if t.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(t.SampleRate))
	}
	return args
}
