// Package virtual simulates a GRBL controller behind a serial.Port, for the VIRTUAL port and for
// tests.
package virtual

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/gcode"
)

// PortName is the name of the virtual port.
const PortName = "VIRTUAL"

var ErrClosed = errors.New("virtual: port closed")

// Config describes the simulated controller.
type Config struct {
	// Baudrate is the only baud rate the controller answers at. 0 answers at any rate.
	Baudrate int
	// Version as printed in the welcome banner, eg: "0.9g_20150509".
	Version string
	// Locked starts the controller in alarm lock after every reset, as with homing enabled.
	Locked bool
}

const (
	stateIdle  = "Idle"
	stateRun   = "Run"
	stateHold  = "Hold"
	stateAlarm = "Alarm"
)

// Device is a simulated controller. It implements serial.Port while open.
type Device struct {
	mu          sync.Mutex
	config      Config
	open        bool
	baudrate    int
	readTimeout time.Duration
	output      []byte
	dataCh      chan struct{}
	input       []byte
	state       string
	position    [3]float64
	lastLine    int
	corrupt     map[int]bool
	received    []string
	bauds       []int
	opens       int
}

func New(config Config) *Device {
	if config.Version == "" {
		config.Version = "0.9g_20150509"
	}
	return &Device{
		config:      config,
		readTimeout: serial.NoTimeout,
		dataCh:      make(chan struct{}, 1),
		corrupt:     map[int]bool{},
	}
}

// Open opens the device with the given mode, which resets the controller as a DTR toggle would.
func (d *Device) Open(mode *serial.Mode) (serial.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.opens++
	d.output = nil
	d.input = nil
	d.setBaudrate(mode.BaudRate)
	d.reset()
	return d, nil
}

func (d *Device) setBaudrate(baudrate int) {
	d.baudrate = baudrate
	d.bauds = append(d.bauds, baudrate)
}

func (d *Device) answers() bool {
	return d.config.Baudrate == 0 || d.config.Baudrate == d.baudrate
}

func (d *Device) reset() {
	d.lastLine = 0
	d.state = stateIdle
	if d.config.Locked {
		d.state = stateAlarm
	}
	d.emit("")
	d.emit(fmt.Sprintf("Grbl %s ['$' for help]", d.config.Version))
	if d.state == stateAlarm {
		d.emit("['$H'|'$X' to unlock]")
	}
}

// emit queues a line towards the host. Output is lost when the baud rate does not match.
func (d *Device) emit(line string) {
	if !d.answers() {
		return
	}
	d.output = append(d.output, line+"\r\n"...)
	select {
	case d.dataCh <- struct{}{}:
	default:
	}
}

// Inject queues an arbitrary line towards the host, eg: alarms.
func (d *Device) Inject(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(line)
}

// CorruptLine makes the controller reject the framed line with the given number once, as if its
// checksum did not match.
func (d *Device) CorruptLine(lineNumber int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt[lineNumber] = true
}

// Received returns all lines received, framing included.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

// Baudrates returns every baud rate the port was set to, in order.
func (d *Device) Baudrates() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.bauds...)
}

// Opens returns how many times the device was opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// SetVersion changes the version announced from the next reset on, as flashing a new firmware
// would.
func (d *Device) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Version = version
}

// State returns the controller state, eg: "Idle".
func (d *Device) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) statusReport() string {
	p := d.position
	return fmt.Sprintf(
		"<%s,MPos:%.3f,%.3f,%.3f,WPos:%.3f,%.3f,%.3f>",
		d.state, p[0], p[1], p[2], p[0], p[1], p[2],
	)
}

func (d *Device) SetMode(mode *serial.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrClosed
	}
	d.setBaudrate(mode.BaudRate)
	return nil
}

func (d *Device) Read(p []byte) (int, error) {
	var timeoutCh <-chan time.Time
	d.mu.Lock()
	if d.readTimeout != serial.NoTimeout {
		timer := time.NewTimer(d.readTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if !d.open {
			d.mu.Unlock()
			return 0, ErrClosed
		}
		if len(d.output) > 0 {
			n := copy(p, d.output)
			d.output = d.output[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.dataCh:
		case <-timeoutCh:
			return 0, nil
		}
	}
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, ErrClosed
	}
	if !d.answers() {
		return len(p), nil
	}
	for _, b := range p {
		switch b {
		case '?':
			d.emit(d.statusReport())
		case '!':
			if d.state == stateRun || d.state == stateIdle {
				d.state = stateHold
			}
		case '~':
			if d.state == stateHold {
				d.state = stateIdle
			}
		case 0x18:
			d.reset()
		case '\r':
		case '\n':
			line := string(d.input)
			d.input = nil
			d.received = append(d.received, line)
			d.processLine(strings.TrimSpace(line))
		default:
			d.input = append(d.input, b)
		}
	}
	return len(p), nil
}

//gocyclo:ignore
func (d *Device) processLine(line string) {
	if lineNumber, command, checksum, ok := gcode.ParseFrame(line); ok {
		if d.corrupt[lineNumber] || gcode.Checksum(lineNumber, command) != checksum {
			delete(d.corrupt, lineNumber)
			d.emit(fmt.Sprintf("Error:checksum mismatch, Last Line: %d", d.lastLine))
			d.requestResend()
			return
		}
		if gcode.CommandID(command) == "M110" {
			d.lastLine = lineNumber
			d.emit("ok")
			return
		}
		if lineNumber != d.lastLine+1 {
			d.emit(fmt.Sprintf("Error:Line Number is not Last Line Number+1, Last Line: %d", d.lastLine))
			d.requestResend()
			return
		}
		d.lastLine = lineNumber
		line = command
	}

	switch strings.ToUpper(line) {
	case "":
		d.emit("ok")
		return
	case "$":
		d.emit("$$ (view Grbl settings)")
		d.emit("$# (view # parameters)")
		d.emit("$X (kill alarm lock)")
		d.emit("$H (run homing cycle)")
		d.emit("ok")
		return
	case "$$":
		d.emit("$0=10 (step pulse, usec)")
		d.emit("$22=1 (homing cycle, bool)")
		d.emit("ok")
		return
	case "$X":
		if d.state == stateAlarm {
			d.state = stateIdle
			d.emit("[Caution: Unlocked]")
		}
		d.emit("ok")
		return
	case "$H":
		d.position = [3]float64{}
		d.state = stateIdle
		d.emit("ok")
		return
	}

	commandID := gcode.CommandID(line)
	if d.state == stateAlarm && (commandID == "G0" || commandID == "G1") {
		d.emit("error: Alarm lock")
		return
	}
	switch commandID {
	case "G0", "G1":
		for i, letter := range []rune{'X', 'Y', 'Z'} {
			if v, ok := gcode.Argument(line, letter); ok {
				d.position[i] = v
			}
		}
	case "M110":
		lineNumber, _ := gcode.Argument(line, 'N')
		d.lastLine = int(lineNumber)
	}
	d.emit("ok")
}

func (d *Device) requestResend() {
	d.emit(fmt.Sprintf("Resend: %d", d.lastLine+1))
	d.emit("ok")
}

func (d *Device) Drain() error {
	return nil
}

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = nil
	return nil
}

func (d *Device) ResetOutputBuffer() error {
	return nil
}

func (d *Device) SetDTR(dtr bool) error {
	return nil
}

func (d *Device) SetRTS(rts bool) error {
	return nil
}

func (d *Device) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{CTS: true, DSR: true}, nil
}

func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readTimeout = t
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrClosed
	}
	d.open = false
	select {
	case d.dataCh <- struct{}{}:
	default:
	}
	return nil
}

func (d *Device) Break(time.Duration) error {
	return nil
}
