package serialtcp

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"
)

// ErrNotSupported is returned by line control operations, which have no TCP equivalent.
var ErrNotSupported = errors.New("serialtcp: not supported")

// TcpPort implements serial.Port over a TCP connection to a serial bridge. The bridge owns the
// line settings, so SetMode only records the requested mode.
type TcpPort struct {
	conn        net.Conn
	mu          sync.Mutex
	readTimeout time.Duration
	mode        serial.Mode
}

// Dial connects to the bridge listening at address.
func Dial(ctx context.Context, address string, timeout time.Duration) (*TcpPort, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Dialing TCP port", "address", address, "timeout", timeout)
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, errors.Join(err, conn.Close())
		}
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *TcpPort {
	return &TcpPort{conn: conn, readTimeout: serial.NoTimeout}
}

func (tp *TcpPort) SetMode(mode *serial.Mode) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.mode = *mode
	return nil
}

// Mode returns the last mode given to SetMode.
func (tp *TcpPort) Mode() serial.Mode {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.mode
}

// Read behaves as a serial port read: when the read timeout expires with no data, it returns 0
// bytes and no error.
func (tp *TcpPort) Read(p []byte) (n int, err error) {
	tp.mu.Lock()
	readTimeout := tp.readTimeout
	tp.mu.Unlock()

	deadline := time.Time{}
	if readTimeout != serial.NoTimeout {
		deadline = time.Now().Add(readTimeout)
	}
	if err := tp.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err = tp.conn.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (tp *TcpPort) Write(p []byte) (n int, err error) {
	return tp.conn.Write(p)
}

func (tp *TcpPort) Drain() error {
	return nil
}

func (tp *TcpPort) ResetInputBuffer() error {
	return ErrNotSupported
}

func (tp *TcpPort) ResetOutputBuffer() error {
	return ErrNotSupported
}

func (tp *TcpPort) SetDTR(dtr bool) error {
	return ErrNotSupported
}

func (tp *TcpPort) SetRTS(rts bool) error {
	return ErrNotSupported
}

func (tp *TcpPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, ErrNotSupported
}

func (tp *TcpPort) SetReadTimeout(t time.Duration) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.readTimeout = t
	return nil
}

func (tp *TcpPort) Close() error {
	return tp.conn.Close()
}

func (tp *TcpPort) Break(time.Duration) error {
	return ErrNotSupported
}
