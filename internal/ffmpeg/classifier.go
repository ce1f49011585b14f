package ffmpeg

import (
	"regexp"
	"strings"
)

// Signal is what a single encoder output line says about the connection.
type Signal int

// Signals in increasing priority.
const (
	SignalNone Signal = iota
	SignalConnecting
	SignalStreaming
	SignalFailed
)

func (s Signal) String() string {
	switch s {
	case SignalConnecting:
		return "connecting"
	case SignalStreaming:
		return "streaming"
	case SignalFailed:
		return "failed"
	default:
		return "none"
	}
}

// Pattern tables, evaluated failure first. A dying session can interleave
// progress lines with its error, so failure must dominate.
var (
	failurePatterns = compilePatterns(
		// connection
		`Connection\s+refused`,
		`Connection\s+timed\s+out`,
		`Network\s+is\s+unreachable`,
		`No\s+route\s+to\s+host`,
		`Host\s+not\s+found`,
		// http / rtmp status
		`403\s+Forbidden`,
		`401\s+Unauthorized`,
		`404\s+Not\s+Found`,
		`503\s+Service\s+Unavailable`,
		// rejected by ingest
		`Stream\s+key\s+invalid`,
		`Authentication\s+failed`,
		`Access\s+denied`,
		// fatal encoder conditions
		`Exiting\s+normally,\s+received\s+signal\s+15`,
		`Input/output\s+error`,
		`Broken\s+pipe`,
		`rtmp\s+error`,
		`rtmp.*failed`,
	)

	streamingPatterns = compilePatterns(
		`Connection\s+successful`,
		`Server\s+returned:\s+200\s+OK`,
		`rtmp://.*:\s*OK`,
		`frame=\s*\d+\s+fps=`,
		`size=\s*\d+\w*\s+time=`,
		`bitrate=\s*\d+\.?\d*kbits/s`,
		`rtmp\s+closing`,
		`rtmp\s+streaming`,
		`Progress:\s+\d+%`,
	)

	connectingPatterns = compilePatterns(
		`ffmpeg\s+version`,
		`Configuration:`,
		`lib.*\d+\.\d+`,
		`Input\s+#0`,
		`Output\s+#0`,
		`Press\s+\[q\]\s+to\s+stop`,
	)

	// extractPatterns pull a short human message out of a failure line.
	extractPatterns = compilePatterns(
		`Connection\s+(refused|timed\s+out)`,
		`(403|401|404|503)\s+\w+`,
		`Stream\s+key\s+invalid`,
		`Authentication\s+failed`,
		`Access\s+denied`,
		`Input/output\s+error`,
	)
)

// maxErrorLen caps the fallback error message.
const maxErrorLen = 100

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

func matchAny(patterns []*regexp.Regexp, line string) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Classify maps one line of encoder output to a connection signal.
// First match wins in the order failed, streaming, connecting.
func Classify(line string) Signal {
	line = strings.TrimSpace(line)
	if line == "" {
		return SignalNone
	}

	switch {
	case matchAny(failurePatterns, line):
		return SignalFailed
	case matchAny(streamingPatterns, line):
		return SignalStreaming
	case matchAny(connectingPatterns, line):
		return SignalConnecting
	default:
		return SignalNone
	}
}

// ExtractError returns a short message for a failure line, falling back to
// the first 100 characters of the line.
func ExtractError(line string) string {
	line = strings.TrimSpace(line)
	for _, re := range extractPatterns {
		if m := re.FindString(line); m != "" {
			return m
		}
	}
	return truncate(line, maxErrorLen)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
