package comm

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
)

// lineReader splits the bytes read from a port into lines.
type lineReader struct {
	buf     []byte
	pending bytes.Buffer
}

func newLineReader() *lineReader {
	return &lineReader{buf: make([]byte, 256)}
}

// readLine returns the next complete line. ok is false when the read timed out before a line was
// complete.
func (r *lineReader) readLine(port io.Reader) (string, bool, error) {
	if line, ok := r.takeLine(); ok {
		return line, true, nil
	}
	n, err := port.Read(r.buf)
	if n > 0 {
		r.pending.Write(r.buf[:n])
	}
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		return "", false, err
	}
	line, ok := r.takeLine()
	return line, ok, nil
}

func (r *lineReader) takeLine() (string, bool) {
	i := bytes.IndexByte(r.pending.Bytes(), '\n')
	if i < 0 {
		return "", false
	}
	line := string(r.pending.Next(i + 1))
	return strings.TrimRight(line, "\r\n"), true
}

func (r *lineReader) reset() {
	r.pending.Reset()
}
