package ffmpeg

// OptionType is a named ffmpeg behavior flag.
type OptionType string

// Behavior flags applied around the input and output.
const (
	OptionRealtime        OptionType = "realtime"          // -re: read input at native rate
	OptionReconnect       OptionType = "reconnect"         // reconnect the http input transport
	OptionFlushPackets    OptionType = "flush_packets"     // write packets immediately
	OptionAvoidNegativeTS OptionType = "avoid_negative_ts" // shift timestamps to start at zero
)

// DefaultOptions is used when Params.Options is nil.
var DefaultOptions = []OptionType{
	OptionRealtime,
	OptionReconnect,
	OptionFlushPackets,
	OptionAvoidNegativeTS,
}

// Transcode holds the fixed re-encode targets.
type Transcode struct {
	VideoCodec   string // libx264
	Preset       string // medium
	VideoBitrate string // 3000k
	MaxRate      string // 3000k
	BufferSize   string // 6000k
	AudioCodec   string // aac
	AudioBitrate string // 128k
	SampleRate   int    // 44100

	// ForceKeyframeAtStart emits a keyframe at t=0 so the ingest can go live immediately.
	ForceKeyframeAtStart bool
}

// DefaultTranscode returns the transcode targets used for non-copy inputs.
func DefaultTranscode() Transcode {
	return Transcode{
		VideoCodec:           "libx264",
		Preset:               "medium",
		VideoBitrate:         "3000k",
		MaxRate:              "3000k",
		BufferSize:           "6000k",
		AudioCodec:           "aac",
		AudioBitrate:         "128k",
		SampleRate:           44100,
		ForceKeyframeAtStart: true,
	}
}

// Params describes one encoder invocation.
type Params struct {
	// Binary is the ffmpeg executable; empty means "ffmpeg" from PATH.
	Binary string

	// InputURL is the media source, usually a presigned object URL.
	InputURL string

	// OutputURL is the full ingest destination including the stream key.
	OutputURL string

	// CopyCodec streams the input as-is instead of transcoding.
	CopyCodec bool

	// Transcode overrides DefaultTranscode when CopyCodec is false.
	Transcode *Transcode

	// Options overrides DefaultOptions.
	Options []OptionType
}
