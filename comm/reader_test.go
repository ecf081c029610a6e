package comm

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestLineReader(t *testing.T) {
	port := &chunkReader{
		chunks: []string{"o", "k\r\n<Idle|MPos:0.000,0.000,0.000>\r\nGr", "bl 1.1f ['$' for help]\r\n"},
		err:    os.ErrDeadlineExceeded,
	}
	r := newLineReader()

	var lines []string
	for range 6 {
		line, ok, err := r.readLine(port)
		require.NoError(t, err)
		if ok {
			lines = append(lines, line)
		}
	}
	require.Equal(t, []string{"ok", "<Idle|MPos:0.000,0.000,0.000>", "Grbl 1.1f ['$' for help]"}, lines)

	line, ok, err := r.readLine(port)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, line)
}

func TestLineReaderError(t *testing.T) {
	errBroken := errors.New("broken")
	r := newLineReader()
	_, _, err := r.readLine(&chunkReader{err: errBroken})
	require.ErrorIs(t, err, errBroken)

	_, ok, err := r.readLine(&chunkReader{err: io.ErrNoProgress})
	require.Error(t, err)
	require.False(t, ok)
}
