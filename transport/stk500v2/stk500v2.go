// Package stk500v2 implements the sign-on handshake of the STK500v2 bootloader protocol, enough to
// tell whether a bootloader answers on a port.
package stk500v2

import (
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	messageStart byte = 0x1B
	token        byte = 0x0E

	CmdSignOn           byte = 0x01
	CmdLeaveProgmodeISP byte = 0x11

	StatusCmdOK byte = 0x00
)

var (
	ErrTimeout  = errors.New("stk500v2: timeout")
	ErrChecksum = errors.New("stk500v2: checksum mismatch")
	ErrProtocol = errors.New("stk500v2: protocol error")
)

// Client speaks STK500v2 over rw. Reads must return (0, nil) on timeout, as serial ports do.
type Client struct {
	rw       io.ReadWriter
	timeout  time.Duration
	sequence byte
}

func NewClient(rw io.ReadWriter, timeout time.Duration) *Client {
	return &Client{rw: rw, timeout: timeout}
}

// Frame encodes a message body.
func Frame(sequence byte, body []byte) []byte {
	msg := []byte{messageStart, sequence, byte(len(body) >> 8), byte(len(body)), token}
	msg = append(msg, body...)
	var checksum byte
	for _, b := range msg {
		checksum ^= b
	}
	return append(msg, checksum)
}

func (c *Client) readFull(buf []byte, deadline time.Time) error {
	for read := 0; read < len(buf); {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		n, err := c.rw.Read(buf[read:])
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		read += n
	}
	return nil
}

// Send writes a command and returns the answer body.
func (c *Client) Send(body []byte) ([]byte, error) {
	c.sequence++
	if _, err := c.rw.Write(Frame(c.sequence, body)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	header := make([]byte, 5)
	for {
		if err := c.readFull(header[:1], deadline); err != nil {
			return nil, err
		}
		if header[0] == messageStart {
			break
		}
	}
	if err := c.readFull(header[1:], deadline); err != nil {
		return nil, err
	}
	if header[1] != c.sequence || header[4] != token {
		return nil, fmt.Errorf("%w: bad header %x", ErrProtocol, header)
	}
	size := int(header[2])<<8 | int(header[3])
	rest := make([]byte, size+1)
	if err := c.readFull(rest, deadline); err != nil {
		return nil, err
	}
	var checksum byte
	for _, b := range append(header, rest[:size]...) {
		checksum ^= b
	}
	if checksum != rest[size] {
		return nil, ErrChecksum
	}
	answer := rest[:size]
	if len(answer) < 2 || answer[0] != body[0] || answer[1] != StatusCmdOK {
		return nil, fmt.Errorf("%w: answer %x", ErrProtocol, answer)
	}
	return answer, nil
}

// SignOn returns the programmer signature.
func (c *Client) SignOn() (string, error) {
	answer, err := c.Send([]byte{CmdSignOn})
	if err != nil {
		return "", err
	}
	if len(answer) < 3 {
		return "", nil
	}
	return string(answer[3:]), nil
}

// LeaveISP leaves programming mode, which starts the application firmware.
func (c *Client) LeaveISP() error {
	_, err := c.Send([]byte{CmdLeaveProgmodeISP, 1, 1})
	return err
}
