package stk500v2

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBootloader answers every request with a canned body.
type fakeBootloader struct {
	answer  func(request []byte) []byte
	pending bytes.Buffer
}

func (f *fakeBootloader) Write(p []byte) (int, error) {
	body := p[5 : len(p)-1]
	if answer := f.answer(body); answer != nil {
		f.pending.Write(Frame(p[1], answer))
	}
	return len(p), nil
}

func (f *fakeBootloader) Read(p []byte) (int, error) {
	if f.pending.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return f.pending.Read(p)
}

func TestFrame(t *testing.T) {
	require.Equal(t, []byte{0x1B, 0x01, 0x00, 0x01, 0x0E, 0x01, 0x14}, Frame(1, []byte{CmdSignOn}))
}

func TestSignOn(t *testing.T) {
	bootloader := &fakeBootloader{answer: func(request []byte) []byte {
		switch request[0] {
		case CmdSignOn:
			return append([]byte{CmdSignOn, StatusCmdOK, 8}, "AVRISP_2"...)
		case CmdLeaveProgmodeISP:
			return []byte{CmdLeaveProgmodeISP, StatusCmdOK}
		}
		return nil
	}}
	c := NewClient(bootloader, 100*time.Millisecond)

	signature, err := c.SignOn()
	require.NoError(t, err)
	require.Equal(t, "AVRISP_2", signature)
	require.NoError(t, c.LeaveISP())
}

func TestSignOnTimeout(t *testing.T) {
	c := NewClient(&fakeBootloader{answer: func([]byte) []byte { return nil }}, 10*time.Millisecond)
	_, err := c.SignOn()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSignOnFailedStatus(t *testing.T) {
	c := NewClient(&fakeBootloader{answer: func(request []byte) []byte {
		return []byte{request[0], 0xC0}
	}}, 100*time.Millisecond)
	_, err := c.SignOn()
	require.ErrorIs(t, err, ErrProtocol)
}
