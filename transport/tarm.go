package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// tarmPort adapts a github.com/tarm/serial port to serial.Port. tarm can only set line parameters
// when opening, so mode and read timeout changes reopen the port.
type tarmPort struct {
	mu     sync.Mutex
	config tarm.Config
	port   *tarm.Port
}

var tarmParity = map[serial.Parity]tarm.Parity{
	serial.NoParity:    tarm.ParityNone,
	serial.OddParity:   tarm.ParityOdd,
	serial.EvenParity:  tarm.ParityEven,
	serial.MarkParity:  tarm.ParityMark,
	serial.SpaceParity: tarm.ParitySpace,
}

func openTarm(name string, mode *serial.Mode, readTimeout time.Duration) (*tarmPort, error) {
	p := &tarmPort{config: tarm.Config{
		Name:        name,
		Baud:        mode.BaudRate,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      tarmParity[mode.Parity],
		StopBits:    tarm.Stop1,
	}}
	var err error
	if p.port, err = tarm.OpenPort(&p.config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *tarmPort) reopen() error {
	if p.port != nil {
		if err := p.port.Close(); err != nil {
			return err
		}
	}
	var err error
	p.port, err = tarm.OpenPort(&p.config)
	return err
}

func (p *tarmPort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Baud = mode.BaudRate
	p.config.Parity = tarmParity[mode.Parity]
	return p.reopen()
}

// Read returns (0, nil) on timeout, as go.bug.st/serial does.
func (p *tarmPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	n, err := port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *tarmPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	return port.Write(b)
}

func (p *tarmPort) Drain() error {
	return nil
}

func (p *tarmPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Flush()
}

func (p *tarmPort) ResetOutputBuffer() error {
	return nil
}

func (p *tarmPort) SetDTR(bool) error {
	return errors.ErrUnsupported
}

func (p *tarmPort) SetRTS(bool) error {
	return errors.ErrUnsupported
}

func (p *tarmPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, errors.ErrUnsupported
}

func (p *tarmPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.ReadTimeout == t {
		return nil
	}
	p.config.ReadTimeout = t
	return p.reopen()
}

func (p *tarmPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}

func (p *tarmPort) Break(time.Duration) error {
	return errors.ErrUnsupported
}

// TarmFactory opens "tarm:<device>" names with github.com/tarm/serial, for platforms where
// go.bug.st/serial misbehaves.
var TarmFactory = FactoryFunc(func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
	device, ok := strings.CutPrefix(name, PrefixTarm)
	if !ok {
		return nil, nil
	}
	return openWithParityQuirk(ctx, func(mode *serial.Mode) (serial.Port, error) {
		return openTarm(device, mode, readTimeout)
	}, baudrate)
})
