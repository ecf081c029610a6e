// Package comm is the engine driving a GRBL family controller over a serial link: connection and
// baud rate detection, the protocol state machine, the flow controlled sender with checksum framing
// and resend recovery, status polling and the print job lifecycle.
//
// A Machine runs two workers for each connection. The Monitor reads lines from the port and
// dispatches them to the handler of the current state. The Sender takes commands from the queue and
// writes them, blocking on flow control permits, which acknowledgements release.
package comm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/gcode"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/hooks"
	"github.com/mrbeam/mrb3-octoPrint/job"
	"github.com/mrbeam/mrb3-octoPrint/metrics"
	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/transport"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
	"github.com/mrbeam/mrb3-octoPrint/worker_manager"
)

var (
	ErrNotOperational   = errors.New("comm: not operational")
	ErrAlreadyConnected = errors.New("comm: already connected")
	ErrNoFileSelected   = errors.New("comm: no file selected")
	ErrBusy             = errors.New("comm: busy printing")
	ErrNotPrinting      = errors.New("comm: not printing")
	ErrSdNotSupported   = errors.New("comm: sd card support disabled")
	ErrNoBaudrateFound  = errors.New("comm: no suitable baudrate found")
)

// Command types used for de-duplication.
const (
	TypeStatusPoll   = "status_poll"
	TypeSdStatusPoll = "sd_status_poll"
)

// Options to create a Machine. Only Port and Baudrate are usually set: everything else defaults.
type Options struct {
	// Port to connect to. "" or transport.PortAuto autodetects.
	Port string
	// Baudrate to connect at. 0 detects it.
	Baudrate int
	Settings settings.Provider
	Events   events.Sink
	Hooks    *hooks.Registry
	// Factories are tried before the default ones when opening the port.
	Factories []transport.Factory
	Prober    transport.Prober
	Flasher   grbl.Flasher
	Metrics   *metrics.Metrics
	// Virtual is the device behind the VIRTUAL port.
	Virtual *virtual.Device
}

// config is the snapshot of settings a Machine works with.
type config struct {
	connectionTimeout    time.Duration
	detectionTimeout     time.Duration
	communicationTimeout time.Duration
	readTimeout          time.Duration
	baudrateRetries      int
	historyDepth         int
	flowCapacity         int
	rxBufferSize         int
	rxBufferReserve      int
	statusInterval       time.Duration
	sdStatusInterval     time.Duration
	helloCommand         string
	grbl                 bool
	alwaysChecksum       bool
	checksumUnknown      bool
	unknownNeedAck       bool
	supportWait          bool
	waitForStart         bool
	sdSupport            bool
	startCommands        []string
	stopCommands         []string
	homingDoneCommands   []string
	versionFile          string
	requiredVersionFile  string
	longRunning          map[string]bool
}

func newConfig(s settings.Provider) config {
	c := config{
		connectionTimeout:    s.GetDuration(settings.SerialTimeoutConnection),
		detectionTimeout:     s.GetDuration(settings.SerialTimeoutDetection),
		communicationTimeout: s.GetDuration(settings.SerialTimeoutCommunication),
		readTimeout:          s.GetDuration(settings.SerialTimeoutRead),
		baudrateRetries:      s.GetInt(settings.SerialBaudrateRetries),
		historyDepth:         s.GetInt(settings.SerialHistoryDepth),
		flowCapacity:         s.GetInt(settings.SerialFlowControlCapacity),
		rxBufferSize:         s.GetInt(settings.SerialRxBufferSize),
		rxBufferReserve:      s.GetInt(settings.SerialRxBufferReserve),
		statusInterval:       s.GetDuration(settings.SerialStatusInterval),
		sdStatusInterval:     s.GetDuration(settings.SerialSdStatusInterval),
		helloCommand:         s.GetString(settings.SerialHelloCommand),
		grbl:                 s.GetBool(settings.FeatureGrbl),
		alwaysChecksum:       s.GetBool(settings.FeatureAlwaysSendChecksum),
		checksumUnknown:      s.GetBool(settings.FeatureChecksumUnknown),
		unknownNeedAck:       s.GetBool(settings.FeatureUnknownCommandsAck),
		supportWait:          s.GetBool(settings.FeatureSupportWait),
		waitForStart:         s.GetBool(settings.FeatureWaitForStart),
		sdSupport:            s.GetBool(settings.FeatureSdSupport),
		startCommands:        s.GetStringSlice(settings.PrinterStartCommands),
		stopCommands:         s.GetStringSlice(settings.PrinterStopCommands),
		homingDoneCommands:   s.GetStringSlice(settings.PrinterHomingDoneCommands),
		versionFile:          s.GetString(settings.GrblVersionFile),
		requiredVersionFile:  s.GetString(settings.GrblRequiredVersionFile),
		longRunning:          map[string]bool{},
	}
	for _, command := range s.GetStringSlice(settings.SerialLongRunningCommands) {
		if id := gcode.CommandID(command); id != "" {
			c.longRunning[id] = true
		}
	}
	return c
}

func (c config) validate() error {
	if c.historyDepth < 1 {
		return fmt.Errorf("comm: %s must be positive, got %d", settings.SerialHistoryDepth, c.historyDepth)
	}
	if c.flowCapacity < 1 {
		return fmt.Errorf("comm: %s must be positive, got %d", settings.SerialFlowControlCapacity, c.flowCapacity)
	}
	if c.rxBufferReserve > c.rxBufferSize {
		return fmt.Errorf(
			"comm: %s (%d) larger than %s (%d)",
			settings.SerialRxBufferReserve, c.rxBufferReserve, settings.SerialRxBufferSize, c.rxBufferSize,
		)
	}
	if c.readTimeout <= 0 {
		return fmt.Errorf("comm: %s must be positive, got %s", settings.SerialTimeoutRead, c.readTimeout)
	}
	return nil
}

// resendState tracks the replay of history lines requested by the controller.
type resendState struct {
	active       bool
	delta        int
	lastNumber   int
	initialDelta int
	ignored      int
}

// Machine is the communication engine for one controller.
type Machine struct {
	config    config
	settings  settings.Provider
	events    events.Sink
	hooks     *hooks.Registry
	factories []transport.Factory
	prober    transport.Prober
	flasher   grbl.Flasher
	metrics   *metrics.Metrics
	bauds     []int

	state atomic.Int32

	// sendMu serializes writes to the port, and pairs line numbers with their history slot.
	// It is always taken before mu.
	sendMu sync.Mutex
	// nextMu serializes reading the next job line.
	nextMu sync.Mutex
	portMu sync.Mutex
	port   serial.Port

	queue   *CommandQueue
	flow    *FlowControl
	budget  *ByteBudget
	reader  *lineReader
	handler map[State]func(ctx context.Context, line string, silence bool)

	statusPoller Poller
	sdPoller     Poller

	mu             sync.Mutex
	workers        *worker_manager.WorkerManager
	runCtx         context.Context
	connected      bool
	portName       string
	baudrate       int
	errorValue     string
	history        *History
	currentLine    int
	resend         resendState
	lastCommError  string
	swallowNextOk  bool
	longRunning    bool
	heating        bool
	heatupStart    time.Time
	heatupLost     time.Duration
	pauseStart     time.Time
	pausedTime     time.Duration
	deadline       time.Time
	detectRetries  int
	detectBauds    []int
	statusReports  bool
	statusInterval time.Duration
	deferred       []QueueEntry
	job            job.Source
	ignoreSelect   bool
	sdAvailable    bool
	sdFiles        []SdFile
	sdFileList     bool
	temperatures   Temperatures
	tempOffsets    map[string]float64
	position       *Position
	wco            *grbl.Coordinates
	currentZ       *float64
	currentTool    int
	firmware       *grbl.Version
	flashAttempted bool
}

// New creates a Machine. It does not touch the port until Connect.
func New(opts Options) (*Machine, error) {
	s := opts.Settings
	if s == nil {
		s = settings.NewDefault()
	}
	c := newConfig(s)
	if err := c.validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		config:         c,
		settings:       s,
		events:         opts.Events,
		hooks:          opts.Hooks,
		prober:         opts.Prober,
		flasher:        opts.Flasher,
		metrics:        opts.Metrics,
		bauds:          transport.ListBauds(s),
		queue:          NewCommandQueue(),
		flow:           NewFlowControl(c.flowCapacity),
		budget:         NewByteBudget(c.rxBufferSize, c.rxBufferReserve),
		reader:         newLineReader(),
		portName:       opts.Port,
		baudrate:       opts.Baudrate,
		history:        NewHistory(c.historyDepth),
		currentLine:    1,
		statusReports:  true,
		statusInterval: c.statusInterval,
		temperatures:   Temperatures{Tools: map[int]Temperature{}},
		tempOffsets:    map[string]float64{},
	}
	if m.portName == "" {
		m.portName = s.GetString(settings.SerialPort)
	}
	if m.events == nil {
		m.events = events.Discard
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregistered()
	}
	device := opts.Virtual
	if device == nil {
		device = virtual.New(virtual.Config{})
	}
	m.factories = append(slices.Clone(opts.Factories), transport.DefaultFactories(device)...)
	if m.prober == nil {
		m.prober = &transport.Stk500v2Prober{
			Factories: m.factories,
			Baudrate:  115200,
			Timeout:   c.connectionTimeout,
		}
	}
	if m.flasher == nil {
		m.flasher = &grbl.Avrdude{
			Command:    s.GetString(settings.GrblFlashCommand),
			HexFile:    s.GetString(settings.GrblFlashHexFile),
			Part:       s.GetString(settings.GrblFlashPart),
			Programmer: s.GetString(settings.GrblFlashProgrammer),
		}
	}
	m.handler = map[State]func(context.Context, string, bool){
		StateDetectingBaudrate: m.handleDetectingBaudrate,
		StateConnecting:        m.handleConnecting,
		StateOperational:       m.handleOperational,
		StatePaused:            m.handleOperational,
		StateLocked:            m.handleOperational,
		StateHoming:            m.handleOperational,
		StatePrinting:          m.handlePrinting,
		StateTransferringFile:  m.handlePrinting,
	}
	m.state.Store(int32(StateOffline))
	m.metrics.State.Set(float64(StateOffline))
	return m, nil
}

// Connect opens the port and starts the Monitor and Sender workers. Progress is observable through
// State and the published events: Connect does not wait for the controller to answer.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	previous := m.workers
	m.mu.Unlock()
	if previous != nil {
		previous.Wait(ctx)
	}

	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, _ = log.MustWithGroup(ctx, "Machine")
	m.connected = true
	m.runCtx = ctx
	m.errorValue = ""
	m.history.Clear()
	m.currentLine = 1
	m.resend = resendState{}
	m.lastCommError = ""
	m.swallowNextOk = false
	m.longRunning = false
	m.heating = false
	m.deferred = nil
	m.flashAttempted = false
	m.queue.Clear()
	m.flow.Clear()
	m.budget.Clear()
	m.reader.reset()
	m.workers = worker_manager.NewWorkerManager()
	m.workers.AddWorker("Monitor", m.monitorWorker)
	m.workers.AddWorker("Sender", m.senderWorker)
	workers := m.workers
	m.state.Store(int32(StateOffline))
	m.mu.Unlock()

	m.metrics.State.Set(float64(StateOffline))
	workers.Start(ctx)
	return nil
}

// Close stops both workers and closes the port, then waits for the workers to return.
func (m *Machine) Close(ctx context.Context) error {
	m.shutdown(ctx, false)
	return m.Wait(ctx)
}

// Wait blocks until the workers of the current connection returned.
func (m *Machine) Wait(ctx context.Context) error {
	m.mu.Lock()
	workers := m.workers
	m.mu.Unlock()
	if workers == nil {
		return nil
	}
	var errs []error
	for name, err := range workers.Wait(ctx) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("comm: %w", errors.Join(errs...))
	}
	return nil
}

// shutdown closes the connection, entering CLOSED or CLOSED_WITH_ERROR. It never waits for the
// workers, so it may be called from them.
func (m *Machine) shutdown(ctx context.Context, isError bool) {
	if isError {
		m.changeState(ctx, StateClosedWithError)
	} else {
		m.changeState(ctx, StateClosed)
	}
	m.disconnect(ctx)
}

// disconnect stops the pollers and the workers and closes the port, leaving the state alone.
func (m *Machine) disconnect(ctx context.Context) {
	m.statusPoller.Stop()
	m.sdPoller.Stop()

	m.mu.Lock()
	workers := m.workers
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if workers != nil {
		workers.Cancel()
	}
	if err := m.closePort(); err != nil {
		log.MustLogger(ctx).Debug("Closing port failed", "err", err)
	}
	if wasConnected {
		m.publish(events.Disconnected, nil)
	}
}

// changeState moves to newState, running the side effects of entering it.
func (m *Machine) changeState(ctx context.Context, newState State) {
	m.mu.Lock()
	oldState := m.State()
	if oldState == newState {
		m.mu.Unlock()
		return
	}
	m.state.Store(int32(newState))
	var failedJob job.Source
	if newState.IsClosedOrError() {
		m.history.Clear()
		m.resend = resendState{}
		m.lastCommError = ""
		m.swallowNextOk = false
		m.longRunning = false
		m.heating = false
		if isJobState(oldState) {
			failedJob = m.job
		}
	}
	stateString := m.stateStringLocked()
	m.mu.Unlock()

	switch {
	case newState == StatePrinting:
		m.statusPoller.Stop()
	case newState == StateOperational || newState == StateLocked:
		m.startStatusPoller()
	case newState.IsClosedOrError():
		m.statusPoller.Stop()
		m.sdPoller.Stop()
		m.budget.Clear()
		m.queue.Clear()
		if failedJob != nil {
			m.failJob(ctx, failedJob)
		}
	}

	_, logger := log.MustWithGroup(ctx, "Machine")
	logger.Info("State changed", "from", oldState.String(), "to", newState.String())
	m.metrics.StateTransitions.WithLabelValues(oldState.String(), newState.String()).Inc()
	m.metrics.State.Set(float64(newState))
	m.publish(events.StateChanged, events.Payload{
		"from":         oldState.String(),
		"to":           newState.String(),
		"state_string": stateString,
	})
}

func isJobState(s State) bool {
	return s == StatePrinting || s == StatePaused || s == StateTransferringFile
}

func (m *Machine) failJob(ctx context.Context, j job.Source) {
	if err := j.Close(); err != nil {
		log.MustLogger(ctx).Warn("Closing job failed", "err", err)
	}
	m.publish(events.PrintFailed, jobPayload(j))
}

func jobPayload(j job.Source) events.Payload {
	return events.Payload{
		"file":     j.Filename(),
		"filename": job.DisplayName(j),
		"origin":   string(j.Origin()),
	}
}

func (m *Machine) publish(t events.Type, payload events.Payload) {
	m.events.Publish(events.Event{Type: t, Payload: payload})
}

// setError records the error detail shown by StateString.
func (m *Machine) setError(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorValue = value
}

// fail records value, enters ERROR and publishes it.
func (m *Machine) fail(ctx context.Context, value string) {
	m.setError(value)
	m.changeState(ctx, StateError)
	m.publish(events.Error, events.Payload{"error": value})
}

func (m *Machine) resetDeadline(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = time.Now().Add(d)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Port
////////////////////////////////////////////////////////////////////////////////////////////////////

var errPortClosed = errors.New("comm: port closed")

func (m *Machine) getPort() serial.Port {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	return m.port
}

func (m *Machine) setPort(port serial.Port) {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	m.port = port
}

func (m *Machine) closePort() error {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}

// writeRaw writes data as is. Callers hold sendMu.
func (m *Machine) writeRaw(ctx context.Context, data string) error {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	if m.port == nil {
		return errPortClosed
	}
	if _, err := m.port.Write([]byte(data)); err != nil {
		return fmt.Errorf("comm: write: %w", err)
	}
	_, logger := log.MustWithGroup(ctx, "Serial")
	logger.Debug("Send", "line", data)
	return nil
}

func (m *Machine) openPort(ctx context.Context, baudrate int) error {
	m.mu.Lock()
	portName := m.portName
	m.mu.Unlock()
	port, err := transport.Open(ctx, m.factories, portName, baudrate, m.config.readTimeout)
	if err != nil {
		return err
	}
	m.setPort(port)
	return nil
}

// reopen closes and opens the port again, resetting the controller, and enters CONNECTING.
func (m *Machine) reopen(ctx context.Context) {
	logger := log.MustLogger(ctx)
	if err := m.closePort(); err != nil {
		logger.Debug("Closing port failed", "err", err)
	}

	m.mu.Lock()
	baudrate := m.baudrate
	oldJob := m.job
	m.mu.Unlock()

	if err := m.openPort(ctx, baudrate); err != nil {
		m.setError(err.Error())
		m.shutdown(ctx, true)
		m.publish(events.Error, events.Payload{"error": err.Error()})
		return
	}
	m.resetConnection()

	oldState := m.State()
	m.changeState(ctx, StateConnecting)
	if isJobState(oldState) && oldJob != nil {
		m.failJob(ctx, oldJob)
	}
	m.hello(ctx)
}

// resetConnection forgets everything about the previous controller session.
func (m *Machine) resetConnection() {
	m.reader.reset()
	m.flow.Clear()
	m.budget.Clear()
	m.queue.Clear()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLine = 1
	m.history.Clear()
	m.resend = resendState{}
	m.lastCommError = ""
	m.swallowNextOk = false
	m.longRunning = false
	m.heating = false
	m.deadline = time.Now().Add(m.config.connectionTimeout)
}

// hello greets the controller, so it answers and the connection can be established.
func (m *Machine) hello(ctx context.Context) {
	if !m.config.waitForStart && m.config.helloCommand != "" {
		m.sendCommand(ctx, m.config.helloCommand, "")
	}
	m.flow.Release()
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Getters
////////////////////////////////////////////////////////////////////////////////////////////////////

func (m *Machine) State() State {
	return State(m.state.Load())
}

// StateString is the human readable state.
func (m *Machine) StateString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateStringLocked()
}

//gocyclo:ignore
func (m *Machine) stateStringLocked() string {
	switch m.State() {
	case StateOffline:
		return "Offline"
	case StateOpeningSerial:
		return "Opening serial port"
	case StateDetectingSerial:
		return "Detecting serial port"
	case StateDetectingBaudrate:
		return "Detecting baudrate"
	case StateConnecting:
		return "Connecting"
	case StateOperational:
		return "Operational"
	case StatePrinting:
		switch m.job.(type) {
		case *job.StreamingFile:
			return "Sending file to SD"
		case *job.SDFile:
			return "Printing from SD"
		default:
			return "Printing"
		}
	case StatePaused:
		return "Paused"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error: " + m.errorValue
	case StateClosedWithError:
		return "Closed with error: " + m.errorValue
	case StateTransferringFile:
		return "Transfering file to SD"
	case StateLocked:
		return "Locked"
	case StateHoming:
		return "Homing"
	case StateFlashing:
		return "Flashing"
	default:
		return fmt.Sprintf("Unknown state (%d)", m.State())
	}
}

// ErrorString is the last error detail.
func (m *Machine) ErrorString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorValue
}

// Connection returns the port and baud rate in use, or to be used.
func (m *Machine) Connection() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portName, m.baudrate
}

func (m *Machine) IsOperational() bool {
	return m.State().IsOperational()
}

func (m *Machine) IsPrinting() bool {
	return m.State() == StatePrinting
}

func (m *Machine) IsPaused() bool {
	return m.State() == StatePaused
}

// IsBusy is true while a job is printing or paused.
func (m *Machine) IsBusy() bool {
	return m.IsPrinting() || m.IsPaused()
}

func (m *Machine) IsLocked() bool {
	return m.State() == StateLocked
}

func (m *Machine) IsHoming() bool {
	return m.State() == StateHoming
}

func (m *Machine) IsError() bool {
	return m.State().IsError()
}

func (m *Machine) IsClosedOrError() bool {
	return m.State().IsClosedOrError()
}

func (m *Machine) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.job.(*job.StreamingFile)
	return ok
}

func (m *Machine) IsSdFileSelected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.job.(*job.SDFile)
	return ok
}

func (m *Machine) IsSdPrinting() bool {
	return m.IsSdFileSelected() && m.IsPrinting()
}

// Job returns the selected job, if any.
func (m *Machine) Job() job.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

// Progress of the job, as a 0 to 1 fraction.
func (m *Machine) Progress() (float64, error) {
	j := m.Job()
	if j == nil {
		return 0, ErrNoFileSelected
	}
	return j.Progress()
}

// PrintTime is the time elapsed since the job started.
func (m *Machine) PrintTime() time.Duration {
	j := m.Job()
	if j == nil || j.StartTime().IsZero() {
		return 0
	}
	return time.Since(j.StartTime())
}

// CleanedPrintTime is PrintTime without the time spent heating up or paused.
func (m *Machine) CleanedPrintTime() time.Duration {
	printTime := m.PrintTime()
	m.mu.Lock()
	defer m.mu.Unlock()
	cleaned := printTime - m.heatupLost - m.pausedTime
	if !m.pauseStart.IsZero() {
		cleaned -= time.Since(m.pauseStart)
	}
	if cleaned < 0 {
		return 0
	}
	return cleaned
}

// FirmwareVersion is the version from the last welcome banner.
func (m *Machine) FirmwareVersion() (grbl.Version, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firmware == nil {
		return grbl.Version{}, false
	}
	return *m.firmware, true
}

// Position is the last reported position.
func (m *Machine) Position() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return Position{}, false
	}
	return *m.position, true
}

// CurrentZ is the Z height of the last move sent.
func (m *Machine) CurrentZ() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentZ == nil {
		return 0, false
	}
	return *m.currentZ, true
}

func (m *Machine) CurrentTool() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTool
}

// Temperatures is a copy of the last known temperatures.
func (m *Machine) Temperatures() Temperatures {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := Temperatures{Tools: maps.Clone(m.temperatures.Tools)}
	if m.temperatures.Bed != nil {
		bed := *m.temperatures.Bed
		t.Bed = &bed
	}
	return t
}

// SdFiles is the last listed content of the SD card.
func (m *Machine) SdFiles() []SdFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sdFiles)
}

// SdAvailable is true while the SD card is initialized.
func (m *Machine) SdAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sdAvailable
}
