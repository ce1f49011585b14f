package ffmpeg

import (
	"net/url"
	"regexp"
	"strings"
)

// CanStreamCopy reports whether the object can be sent without re-encoding.
func CanStreamCopy(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".mp4")
}

// DestinationURL joins the ingest base URL and the stream key.
func DestinationURL(base, streamKey string) string {
	return strings.TrimRight(base, "/") + "/" + streamKey
}

// RedactURL hides the last path segment (the stream key) and any query or
// credentials so destinations and signed inputs can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}

	path := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx > 0 {
		path = path[:idx] + "/<redacted>"
	} else if path != "" {
		path = "/<redacted>"
	}

	return u.Scheme + "://" + u.Host + path
}

var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s'"]+`)

// RedactLine applies RedactURL to every URL embedded in an output line.
// Encoder banners such as "Output #0, flv, to 'rtmp://host/app/key':" would
// otherwise carry the stream key.
func RedactLine(line string) string {
	if !strings.Contains(line, "://") {
		return line
	}
	return urlPattern.ReplaceAllStringFunc(line, func(match string) string {
		trimmed := strings.TrimRight(match, ":,")
		return RedactURL(trimmed) + match[len(trimmed):]
	})
}
