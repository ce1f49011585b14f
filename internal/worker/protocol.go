package worker

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/relaycast/internal/ffmpeg"
	"github.com/smazurov/relaycast/internal/process"
)

// Line tags written to the worker's stdout.
const (
	TagEncoder    = "[ENCODER]"
	TagEncoderErr = "[ENCODER:ERR]"
	TagPlaylist   = "[PLAYLIST]"
)

// LineKind classifies a protocol line.
type LineKind int

// Protocol line kinds.
const (
	LineOther LineKind = iota
	LineEncoder
	LinePlaylistItem
	LinePlaylistDone
	LinePlaylistReset
)

// Line is a parsed protocol line.
type Line struct {
	Kind LineKind

	// Source and Text are set for LineEncoder; Source is process.SourceStdout
	// or process.SourceStderr.
	Source string
	Text   string

	// Index and Key are set for LinePlaylistItem and LinePlaylistDone.
	Index int
	Key   string
}

// ParseLine decodes one line of worker stdout. Unknown lines are LineOther
// with Text holding the raw line.
func ParseLine(raw string) Line {
	switch {
	case strings.HasPrefix(raw, TagEncoderErr):
		return Line{Kind: LineEncoder, Source: process.SourceStderr, Text: trimTag(raw, TagEncoderErr)}
	case strings.HasPrefix(raw, TagEncoder):
		return Line{Kind: LineEncoder, Source: process.SourceStdout, Text: trimTag(raw, TagEncoder)}
	case strings.HasPrefix(raw, TagPlaylist):
		if line, ok := parsePlaylist(trimTag(raw, TagPlaylist)); ok {
			return line
		}
	}
	return Line{Kind: LineOther, Text: raw}
}

func trimTag(raw, tag string) string {
	return strings.TrimPrefix(strings.TrimPrefix(raw, tag), " ")
}

// parsePlaylist handles "item index=<i> key=<k>", "done index=<i> key=<k>"
// and "reset". The key runs to the end of the line.
func parsePlaylist(body string) (Line, bool) {
	if body == "reset" {
		return Line{Kind: LinePlaylistReset}, true
	}

	verb, rest, ok := strings.Cut(body, " ")
	if !ok {
		return Line{}, false
	}

	var kind LineKind
	switch verb {
	case "item":
		kind = LinePlaylistItem
	case "done":
		kind = LinePlaylistDone
	default:
		return Line{}, false
	}

	indexField, keyField, ok := strings.Cut(rest, " ")
	if !ok || !strings.HasPrefix(indexField, "index=") || !strings.HasPrefix(keyField, "key=") {
		return Line{}, false
	}
	index, err := strconv.Atoi(strings.TrimPrefix(indexField, "index="))
	if err != nil || index < 0 {
		return Line{}, false
	}

	return Line{Kind: kind, Index: index, Key: strings.TrimPrefix(keyField, "key=")}, true
}

// Reporter writes protocol lines. It is safe for concurrent use and
// implements process.OutputHandler for forwarding encoder output.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// HandleLine forwards one encoder output line with its stream tag.
func (r *Reporter) HandleLine(source, line string) {
	tag := TagEncoder
	if source == process.SourceStderr {
		tag = TagEncoderErr
	}
	r.writeLine(tag + " " + ffmpeg.RedactLine(line))
}

// ItemStarted reports that playlist item index began.
func (r *Reporter) ItemStarted(index int, key string) {
	r.writeLine(fmt.Sprintf("%s item index=%d key=%s", TagPlaylist, index, key))
}

// ItemDone reports that playlist item index completed.
func (r *Reporter) ItemDone(index int, key string) {
	r.writeLine(fmt.Sprintf("%s done index=%d key=%s", TagPlaylist, index, key))
}

// PlaylistReset reports that the playlist restarted from the first item.
func (r *Reporter) PlaylistReset() {
	r.writeLine(TagPlaylist + " reset")
}

func (r *Reporter) writeLine(line string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.w, line+"\n")
}
