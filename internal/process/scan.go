package process

import (
	"bufio"
	"bytes"
)

// scanLines returns a split function that ends a line at \n, \r or \r\n.
// ffmpeg terminates its periodic stats updates with a bare \r.
func scanLines() bufio.SplitFunc {
	skipLF := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if len(data) == 0 {
			return 0, nil, nil
		}
		if skipLF {
			skipLF = false
			if data[0] == '\n' {
				return 1, nil, nil
			}
		}

		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			if atEOF {
				return len(data), data, nil
			}
			return 0, nil, nil
		}
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// The \n of a \r\n pair may arrive in the next read.
				skipLF = true
			}
		}
		return i + 1, data[:i], nil
	}
}
