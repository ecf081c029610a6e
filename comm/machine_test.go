package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/gcode"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/transport"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

const waitFor = 5 * time.Second

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
}

// closeContext is for cleanups, which run after t.Context is done.
func closeContext() context.Context {
	return log.WithLogger(context.Background(), slog.New(slog.DiscardHandler))
}

func testSettings() *viper.Viper {
	v := settings.NewDefault()
	v.Set(settings.SerialTimeoutConnection, 200*time.Millisecond)
	v.Set(settings.SerialTimeoutDetection, 50*time.Millisecond)
	v.Set(settings.SerialTimeoutCommunication, time.Minute)
	v.Set(settings.SerialTimeoutRead, 10*time.Millisecond)
	v.Set(settings.SerialBaudrateRetries, 1)
	v.Set(settings.SerialStatusInterval, time.Hour)
	v.Set(settings.PrinterStartCommands, []string{})
	v.Set(settings.PrinterStopCommands, []string{})
	return v
}

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []string
	for _, e := range r.events {
		if e.Type == events.StateChanged {
			states = append(states, e.Payload["to"].(string))
		}
	}
	return states
}

func (r *recorder) find(t events.Type) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return e, true
		}
	}
	return events.Event{}, false
}

func (r *recorder) has(t events.Type) bool {
	_, ok := r.find(t)
	return ok
}

func startMachine(t *testing.T, opts Options) (context.Context, *Machine, *recorder) {
	ctx := testContext(t)
	rec := &recorder{}
	opts.Events = rec
	if opts.Settings == nil {
		opts.Settings = testSettings()
	}
	m, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() {
		require.NoError(t, m.Close(closeContext()))
	})
	return ctx, m, rec
}

func waitState(t *testing.T, m *Machine, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state }, waitFor, time.Millisecond,
		"state %s, want %s", m.State(), state)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Scripted controller
////////////////////////////////////////////////////////////////////////////////////////////////////

const fakePortName = "FAKE"

// fakeController greets with a Grbl banner, answers "?" with an idle status report and acknowledges
// every line. It implements serial.Port.
type fakeController struct {
	mu          sync.Mutex
	open        bool
	hold        bool
	held        int
	readTimeout time.Duration
	output      []byte
	dataCh      chan struct{}
	input       []byte
	lines       []string
}

func newFakeController() *fakeController {
	return &fakeController{dataCh: make(chan struct{}, 1)}
}

func (f *fakeController) factory() transport.Factory {
	return transport.FactoryFunc(func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
		if name != fakePortName {
			return nil, nil
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.open = true
		f.readTimeout = readTimeout
		f.output = nil
		f.input = nil
		f.emit("Grbl 1.1f ['$' for help]")
		return f, nil
	})
}

func (f *fakeController) emit(lines ...string) {
	for _, line := range lines {
		f.output = append(f.output, line+"\r\n"...)
	}
	select {
	case f.dataCh <- struct{}{}:
	default:
	}
}

// Inject queues lines towards the host at once.
func (f *fakeController) Inject(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(lines...)
}

// Hold stops acknowledging lines. Releasing acknowledges the held ones.
func (f *fakeController) Hold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
	if !hold {
		for ; f.held > 0; f.held-- {
			f.emit("ok")
		}
	}
}

func (f *fakeController) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeController) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.lines)
}

func (f *fakeController) Read(p []byte) (int, error) {
	timer := time.NewTimer(f.readTimeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		if !f.open {
			f.mu.Unlock()
			return 0, virtual.ErrClosed
		}
		if len(f.output) > 0 {
			n := copy(p, f.output)
			f.output = f.output[n:]
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()
		select {
		case <-f.dataCh:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (f *fakeController) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, virtual.ErrClosed
	}
	for _, b := range p {
		switch b {
		case '?':
			f.emit("<Idle|MPos:0.000,0.000,0.000|FS:0,0>")
		case '\n':
			f.lines = append(f.lines, string(f.input))
			f.input = nil
			if f.hold {
				f.held++
			} else {
				f.emit("ok")
			}
		default:
			f.input = append(f.input, b)
		}
	}
	return len(p), nil
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	select {
	case f.dataCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeController) SetMode(*serial.Mode) error { return nil }
func (f *fakeController) Drain() error               { return nil }
func (f *fakeController) ResetInputBuffer() error    { return nil }
func (f *fakeController) ResetOutputBuffer() error   { return nil }
func (f *fakeController) SetDTR(bool) error          { return nil }
func (f *fakeController) SetRTS(bool) error          { return nil }
func (f *fakeController) Break(time.Duration) error  { return nil }

func (f *fakeController) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (f *fakeController) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readTimeout = t
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Connection
////////////////////////////////////////////////////////////////////////////////////////////////////

func TestMachineBaudrateDetection(t *testing.T) {
	t.Run("scan", func(t *testing.T) {
		device := virtual.New(virtual.Config{Baudrate: 115200})
		_, m, rec := startMachine(t, Options{Port: virtual.PortName, Virtual: device})

		waitState(t, m, StateOperational)
		states := rec.states()
		require.Subset(t, states, []string{"DETECTING_BAUDRATE", "CONNECTING", "LOCKED", "OPERATIONAL"})
		require.Less(t, slices.Index(states, "DETECTING_BAUDRATE"), slices.Index(states, "CONNECTING"))
		require.Less(t, slices.Index(states, "CONNECTING"), slices.Index(states, "LOCKED"))

		// Opened twice at the first rate, then each rate tried in order until one answers.
		require.Equal(t, []int{250000, 230400, 115200}, device.Baudrates()[2:])
		_, baudrate := m.Connection()
		require.Equal(t, 115200, baudrate)

		connected, ok := rec.find(events.Connected)
		require.True(t, ok)
		require.Equal(t, virtual.PortName, connected.Payload["port"])
	})

	t.Run("preferred", func(t *testing.T) {
		device := virtual.New(virtual.Config{Baudrate: 115200})
		s := testSettings()
		s.Set(settings.SerialBaudrate, 115200)
		_, m, _ := startMachine(t, Options{Port: virtual.PortName, Settings: s, Virtual: device})

		waitState(t, m, StateOperational)
		require.Equal(t, []int{115200}, device.Baudrates()[2:])
	})

	t.Run("none", func(t *testing.T) {
		device := virtual.New(virtual.Config{Baudrate: 1200})
		s := testSettings()
		s.Set(settings.SerialBaudrateRetries, 0)
		s.Set(settings.SerialTimeoutConnection, 5*time.Millisecond)
		_, m, rec := startMachine(t, Options{Port: virtual.PortName, Settings: s, Virtual: device})

		waitState(t, m, StateError)
		require.Equal(t, "No more baudrates to test, and no suitable baudrate found.", m.ErrorString())
		require.True(t, rec.has(events.Error))
	})
}

func TestMachineConnectLocked(t *testing.T) {
	device := virtual.New(virtual.Config{Locked: true})
	ctx, m, _ := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})

	waitState(t, m, StateLocked)
	version, ok := m.FirmwareVersion()
	require.True(t, ok)
	require.Equal(t, "0.9g_20150509", version.String())

	require.NoError(t, m.SendCommand(ctx, "$X", ""))
	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	waitState(t, m, StateOperational)
}

func TestMachineChangeStateLogs(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(t.Context(), slog.New(slog.NewJSONHandler(&buf, nil)))
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)

	m.changeState(ctx, StateLocked)
	m.changeState(ctx, StateLocked)

	var record struct {
		Msg     string            `json:"msg"`
		Machine map[string]string `json:"Machine"`
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "State changed", record.Msg)
	require.Equal(t, map[string]string{"from": "OFFLINE", "to": "LOCKED"}, record.Machine)
}

func TestMachineAlreadyConnected(t *testing.T) {
	ctx, m, _ := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200})
	waitState(t, m, StateOperational)
	require.ErrorIs(t, m.Connect(ctx), ErrAlreadyConnected)
}

func TestMachineClose(t *testing.T) {
	ctx := testContext(t)
	rec := &recorder{}
	m, err := New(Options{Port: virtual.PortName, Baudrate: 115200, Settings: testSettings(), Events: rec})
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx))
	waitState(t, m, StateOperational)

	require.NoError(t, m.Close(ctx))
	require.Equal(t, StateClosed, m.State())
	require.Equal(t, 0, m.history.Len())
	require.False(t, m.statusPoller.Running())
	require.Equal(t, 0, m.queue.Len())
	require.True(t, rec.has(events.Disconnected))

	// A closed machine connects again.
	require.NoError(t, m.Connect(ctx))
	waitState(t, m, StateOperational)
	require.NoError(t, m.Close(ctx))
}

func TestMachineLimitAlarm(t *testing.T) {
	device := virtual.New(virtual.Config{})
	_, m, rec := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})
	waitState(t, m, StateOperational)
	opens := device.Opens()

	device.Inject("ALARM:1")
	require.Eventually(t, func() bool { return rec.has(events.LimitsHit) }, waitFor, time.Millisecond)
	require.Equal(t, "Machine Limit Hit. Please reset the machine and do a homing cycle", m.ErrorString())

	// The controller is reset by reopening the port, and the connection comes up again.
	require.Eventually(t, func() bool {
		operational := 0
		for _, state := range rec.states() {
			if state == "OPERATIONAL" {
				operational++
			}
		}
		return operational == 2
	}, waitFor, time.Millisecond)
	require.Greater(t, device.Opens(), opens)
}

func TestMachineFirmwareError(t *testing.T) {
	device := virtual.New(virtual.Config{})
	ctx, m, rec := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})
	waitState(t, m, StateOperational)

	device.Inject("Error:Printer halted. kill() called!")
	waitState(t, m, StateError)
	require.Equal(t, "Error: Printer halted. kill() called!", m.StateString())
	e, ok := rec.find(events.Error)
	require.True(t, ok)
	require.Equal(t, "Printer halted. kill() called!", e.Payload["error"])

	// The connection stays up, and an idle status report brings it back.
	require.Never(t, func() bool { return rec.has(events.Disconnected) }, 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	waitState(t, m, StateOperational)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Firmware
////////////////////////////////////////////////////////////////////////////////////////////////////

func TestMachineFlashesRequiredFirmware(t *testing.T) {
	dir := t.TempDir()
	requiredPath := filepath.Join(dir, "required.yaml")
	versionPath := filepath.Join(dir, "version.yaml")
	require.NoError(t, os.WriteFile(requiredPath, []byte("grbl: 1.1f\n"), 0o644))

	s := testSettings()
	s.Set(settings.GrblRequiredVersionFile, requiredPath)
	s.Set(settings.GrblVersionFile, versionPath)

	device := virtual.New(virtual.Config{Version: "0.9g_20150509"})
	var flashes atomic.Int32
	var flashedPort atomic.Value
	flasher := grbl.FlasherFunc(func(ctx context.Context, port string, baudrate int) error {
		flashedPort.Store(fmt.Sprintf("%s@%d", port, baudrate))
		flashes.Add(1)
		device.SetVersion("1.1f")
		return nil
	})
	_, m, rec := startMachine(t, Options{
		Port:     virtual.PortName,
		Baudrate: 115200,
		Settings: s,
		Virtual:  device,
		Flasher:  flasher,
	})

	require.Eventually(t, func() bool {
		version, ok := m.FirmwareVersion()
		return ok && version.String() == "1.1f" && m.State() == StateOperational
	}, waitFor, time.Millisecond)
	require.Equal(t, int32(1), flashes.Load())
	require.Equal(t, "VIRTUAL@115200", flashedPort.Load())

	states := rec.states()
	flashing := slices.Index(states, "FLASHING")
	require.GreaterOrEqual(t, flashing, 0)
	require.Equal(t, "CONNECTING", states[flashing+1])

	version, err := grbl.ReadVersion(versionPath)
	require.NoError(t, err)
	require.Equal(t, "1.1f", version.String())
}

func TestMachineFlashFailure(t *testing.T) {
	dir := t.TempDir()
	requiredPath := filepath.Join(dir, "required.yaml")
	require.NoError(t, os.WriteFile(requiredPath, []byte("grbl: 1.1f\n"), 0o644))
	s := testSettings()
	s.Set(settings.GrblRequiredVersionFile, requiredPath)

	flasher := grbl.FlasherFunc(func(ctx context.Context, port string, baudrate int) error {
		return &grbl.ExitError{ReturnCode: 1}
	})
	_, m, _ := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Settings: s, Flasher: flasher})

	waitState(t, m, StateClosedWithError)
	require.Equal(t, "Closed with error: avrdude returncode: 1", m.StateString())
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Sending
////////////////////////////////////////////////////////////////////////////////////////////////////

func startFake(t *testing.T) (context.Context, *Machine, *fakeController, *recorder) {
	fake := newFakeController()
	s := testSettings()
	s.Set(settings.FeatureAlwaysSendChecksum, true)
	ctx, m, rec := startMachine(t, Options{
		Port:      fakePortName,
		Baudrate:  115200,
		Settings:  s,
		Factories: []transport.Factory{fake.factory()},
	})
	waitState(t, m, StateOperational)
	return ctx, m, fake, rec
}

func sendMoves(t *testing.T, ctx context.Context, m *Machine, fake *fakeController, from, to int) {
	for i := from; i <= to; i++ {
		require.NoError(t, m.SendCommand(ctx, fmt.Sprintf("G1 X%d", i), ""))
	}
	require.Eventually(t, func() bool { return len(fake.Lines()) == to }, waitFor, time.Millisecond)
}

func TestMachineFraming(t *testing.T) {
	ctx, m, fake, _ := startFake(t)
	sendMoves(t, ctx, m, fake, 1, 3)
	require.Equal(t, []string{
		gcode.Frame(1, "G1 X1"),
		gcode.Frame(2, "G1 X2"),
		gcode.Frame(3, "G1 X3"),
	}, fake.Lines())

	// Unknown commands go unframed.
	require.NoError(t, m.SendCommand(ctx, "$$", ""))
	require.Eventually(t, func() bool { return len(fake.Lines()) == 4 }, waitFor, time.Millisecond)
	require.Equal(t, "$$", fake.Lines()[3])

	// M110 restarts numbering after the given line.
	require.NoError(t, m.SendCommand(ctx, "M110 N10", ""))
	require.NoError(t, m.SendCommand(ctx, "G1 X4", ""))
	require.Eventually(t, func() bool { return len(fake.Lines()) == 6 }, waitFor, time.Millisecond)
	require.Equal(t, gcode.Frame(11, "G1 X4"), fake.Lines()[5])
}

func TestMachineResend(t *testing.T) {
	ctx, m, fake, _ := startFake(t)
	sendMoves(t, ctx, m, fake, 1, 5)
	sent := fake.Lines()

	fake.Inject("Error:checksum mismatch, Last Line: 2", "Resend: 3", "ok")
	require.Eventually(t, func() bool { return len(fake.Lines()) == 8 }, waitFor, time.Millisecond)
	require.Equal(t, append(slices.Clone(sent), sent[2:]...), fake.Lines())

	require.NoError(t, m.SendCommand(ctx, "G1 X6", ""))
	require.Eventually(t, func() bool { return len(fake.Lines()) == 9 }, waitFor, time.Millisecond)
	require.Equal(t, gcode.Frame(6, "G1 X6"), fake.Lines()[8])
}

func TestMachineResendBeyondHistoryKeepsConnection(t *testing.T) {
	fake := newFakeController()
	s := testSettings()
	s.Set(settings.FeatureAlwaysSendChecksum, true)
	s.Set(settings.SerialHistoryDepth, 2)
	ctx, m, rec := startMachine(t, Options{
		Port:      fakePortName,
		Baudrate:  115200,
		Settings:  s,
		Factories: []transport.Factory{fake.factory()},
	})
	waitState(t, m, StateOperational)

	var content strings.Builder
	for i := range 10000 {
		fmt.Fprintf(&content, "G1 X%d\n", i%100)
	}
	require.NoError(t, m.SelectFile(ctx, writeJob(t, content.String()), false))
	require.NoError(t, m.StartPrint(ctx))
	require.Eventually(t, func() bool { return len(fake.Lines()) >= 5 }, waitFor, time.Millisecond)
	fake.Hold(true)

	fake.Inject("Resend: 1")
	waitState(t, m, StateError)
	require.True(t, rec.has(events.PrintFailed))
	require.Equal(t, "Printer requested line 1 but no sufficient history is available, can't resend", m.ErrorString())

	require.Never(t, func() bool { return !fake.IsOpen() }, 100*time.Millisecond, 10*time.Millisecond)
	require.False(t, rec.has(events.Disconnected))

	fake.Hold(false)
	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	waitState(t, m, StateOperational)
	require.True(t, fake.IsOpen())
}

func TestMachineResendDuplicateRequests(t *testing.T) {
	ctx, m, fake, _ := startFake(t)
	sendMoves(t, ctx, m, fake, 1, 5)
	sent := fake.Lines()

	// Every line after the rejected one is rejected as well, each asking for the same line.
	var lines []string
	for range 3 {
		lines = append(lines, "Error:Line Number is not Last Line Number+1, Last Line: 2", "Resend: 3", "ok")
	}
	fake.Inject(lines...)
	require.Eventually(t, func() bool { return len(fake.Lines()) == 8 }, waitFor, time.Millisecond)

	require.NoError(t, m.SendCommand(ctx, "G1 X6", ""))
	require.Eventually(t, func() bool { return len(fake.Lines()) == 9 }, waitFor, time.Millisecond)
	require.Equal(t, append(append(slices.Clone(sent), sent[2:]...), gcode.Frame(6, "G1 X6")), fake.Lines())
}

func TestMachineStatusPollDedupe(t *testing.T) {
	ctx := testContext(t)
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)
	m.state.Store(int32(StateOperational))

	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	require.Equal(t, 1, m.queue.Len())
}

func TestMachineSendCommandNotOperational(t *testing.T) {
	ctx := testContext(t)
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)
	require.ErrorIs(t, m.SendCommand(ctx, "G1 X1", ""), ErrNotOperational)
	require.NoError(t, m.SendCommand(ctx, "; only a comment", ""))
	require.Equal(t, 0, m.queue.Len())
}

func TestMachineStatusReport(t *testing.T) {
	device := virtual.New(virtual.Config{})
	ctx, m, rec := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})
	waitState(t, m, StateOperational)

	require.NoError(t, m.SendCommand(ctx, "G1 X1.5 Y2 Z3", ""))
	require.NoError(t, m.SendCommand(ctx, "?", TypeStatusPoll))
	require.Eventually(t, func() bool {
		position, ok := m.Position()
		return ok && position.Machine.X == 1.5 && position.Work.Y == 2
	}, waitFor, time.Millisecond)
	require.True(t, rec.has(events.Position))

	z, ok := m.CurrentZ()
	require.True(t, ok)
	require.Equal(t, 3.0, z)
	e, ok := rec.find(events.ZChange)
	require.True(t, ok)
	require.Equal(t, 3.0, e.Payload["new"])
	require.Nil(t, e.Payload["old"])
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Jobs
////////////////////////////////////////////////////////////////////////////////////////////////////

func writeJob(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMachinePrint(t *testing.T) {
	device := virtual.New(virtual.Config{})
	ctx, m, rec := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})
	waitState(t, m, StateOperational)

	require.ErrorIs(t, m.StartPrint(ctx), ErrNoFileSelected)
	require.NoError(t, m.SelectFile(ctx, writeJob(t, "G1 X1\nG1 X2 ; second\n\nG1 Z0.5\n"), false))
	require.True(t, rec.has(events.FileSelected))

	require.NoError(t, m.StartPrint(ctx))
	require.Eventually(t, func() bool { return rec.has(events.PrintDone) }, waitFor, time.Millisecond)
	waitState(t, m, StateOperational)

	var framed []string
	for _, line := range device.Received() {
		if strings.HasPrefix(line, "N") {
			framed = append(framed, line)
		}
	}
	require.Equal(t, []string{
		gcode.Frame(1, "G1 X1"),
		gcode.Frame(2, "G1 X2"),
		gcode.Frame(3, "G1 Z0.5"),
	}, framed)

	states := rec.states()
	require.Contains(t, states, "PRINTING")
	require.True(t, rec.has(events.PrintStarted))
	done, _ := rec.find(events.PrintDone)
	require.Equal(t, "local", done.Payload["origin"])
}

func TestMachineCancelPrint(t *testing.T) {
	ctx := testContext(t)
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)
	require.ErrorIs(t, m.CancelPrint(ctx), ErrNotPrinting)
	require.ErrorIs(t, m.SetPause(ctx, true), ErrNotPrinting)
	require.ErrorIs(t, m.SetPause(ctx, false), ErrNotPrinting)
}

func TestMachinePauseResumeCancel(t *testing.T) {
	device := virtual.New(virtual.Config{})
	ctx, m, rec := startMachine(t, Options{Port: virtual.PortName, Baudrate: 115200, Virtual: device})
	waitState(t, m, StateOperational)

	var content strings.Builder
	for i := range 10000 {
		fmt.Fprintf(&content, "G1 X%d\n", i%100)
	}
	require.NoError(t, m.SelectFile(ctx, writeJob(t, content.String()), false))
	require.NoError(t, m.StartPrint(ctx))
	require.ErrorIs(t, m.SelectFile(ctx, "other.gcode", false), ErrBusy)

	require.NoError(t, m.SetPause(ctx, true))
	require.Equal(t, StatePaused, m.State())
	require.True(t, rec.has(events.PrintPaused))

	require.NoError(t, m.SetPause(ctx, false))
	require.Equal(t, StatePrinting, m.State())
	require.True(t, rec.has(events.PrintResumed))

	require.NoError(t, m.CancelPrint(ctx))
	require.Equal(t, StateOperational, m.State())
	require.True(t, rec.has(events.PrintCancelled))
	require.False(t, rec.has(events.PrintDone))
}

func TestMachineSelectMissingFile(t *testing.T) {
	ctx := testContext(t)
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)
	err = m.SelectFile(ctx, filepath.Join(t.TempDir(), "missing.gcode"), false)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMachineSdRequiresSupport(t *testing.T) {
	ctx := testContext(t)
	m, err := New(Options{Settings: testSettings()})
	require.NoError(t, err)
	require.ErrorIs(t, m.RefreshSdFiles(ctx), ErrSdNotSupported)
	require.ErrorIs(t, m.SelectFile(ctx, "job.gco", true), ErrSdNotSupported)
}

func TestNewValidatesSettings(t *testing.T) {
	for _, tc := range []struct {
		key   string
		value any
	}{
		{settings.SerialHistoryDepth, 0},
		{settings.SerialFlowControlCapacity, 0},
		{settings.SerialRxBufferReserve, 1000},
		{settings.SerialTimeoutRead, time.Duration(0)},
	} {
		t.Run(tc.key, func(t *testing.T) {
			s := testSettings()
			s.Set(tc.key, tc.value)
			_, err := New(Options{Settings: s})
			require.Error(t, err)
		})
	}
}
