// Package collectors turns encoder output into metrics.
package collectors

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/smazurov/relaycast/internal/metrics"
)

// statPattern matches "key=value" pairs in ffmpeg stats lines, where the
// value may be preceded by padding spaces ("fps= 30").
var statPattern = regexp.MustCompile(`(\w+)=\s*(\S+)`)

// ProgressCollector reads ffmpeg stats lines and updates encoder gauges.
// It implements process.OutputHandler.
type ProgressCollector struct{}

// NewProgressCollector creates a collector.
func NewProgressCollector() *ProgressCollector {
	return &ProgressCollector{}
}

// HandleLine parses one encoder line. Lines without stats are ignored.
func (c *ProgressCollector) HandleLine(_, line string) {
	if !strings.Contains(line, "frame=") && !strings.Contains(line, "size=") {
		return
	}
	stats := ParseStats(line)
	if len(stats) == 0 {
		return
	}
	apply(stats)
}

// ParseStats extracts key/value pairs from a stats line.
func ParseStats(line string) map[string]string {
	matches := statPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m[1]] = m[2]
	}
	return out
}

func apply(stats map[string]string) {
	if fps, err := strconv.ParseFloat(stats["fps"], 64); err == nil {
		metrics.SetEncoderFPS(fps)
	}
	if dropped, err := strconv.ParseFloat(stats["drop"], 64); err == nil {
		metrics.SetEncoderDroppedFrames(dropped)
	}
	if dup, err := strconv.ParseFloat(stats["dup"], 64); err == nil {
		metrics.SetEncoderDuplicateFrames(dup)
	}
	speedStr := strings.TrimSuffix(stats["speed"], "x")
	if speed, err := strconv.ParseFloat(speedStr, 64); err == nil {
		metrics.SetEncoderSpeed(speed)
	}
	bitrateStr := strings.TrimSuffix(stats["bitrate"], "kbits/s")
	if bitrate, err := strconv.ParseFloat(bitrateStr, 64); err == nil {
		metrics.SetEncoderBitrate(bitrate)
	}
}
