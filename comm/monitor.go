package comm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/transport"
)

// monitorWorker opens the port and then reads and handles lines until the connection is closed or
// fails.
func (m *Machine) monitorWorker(ctx context.Context) error {
	defer m.disconnect(ctx)
	if !m.openSerial(ctx) {
		return nil
	}
	m.probeStart(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		port := m.getPort()
		if port == nil {
			// Flashing or reopening happens on this goroutine, so this is only seen after
			// shutdown.
			return nil
		}
		line, ok, err := m.reader.readLine(port)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.MustLogger(ctx).Error("Read failed", "err", err)
			m.setError(fmt.Sprintf("Read failed: %s", err))
			m.shutdown(ctx, true)
			m.publish(events.Error, events.Payload{"error": m.ErrorString()})
			return nil
		}
		if !m.handleLineSafe(ctx, line, !ok) {
			return nil
		}
	}
}

// openSerial resolves the port name and opens it.
func (m *Machine) openSerial(ctx context.Context) bool {
	logger := log.MustLogger(ctx)

	m.mu.Lock()
	portName := m.portName
	baudrate := m.baudrate
	m.mu.Unlock()

	if portName == "" || portName == transport.PortAuto {
		m.changeState(ctx, StateDetectingSerial)
		candidates := transport.ListPorts(ctx, m.settings)
		found, err := transport.Detect(ctx, candidates, m.prober)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			logger.Error("Port detection failed", "err", err)
			m.fail(ctx, "Failed to autodetect serial port, please set it manually.")
			return false
		}
		m.mu.Lock()
		m.portName = found
		m.mu.Unlock()
	}

	openBaudrate := baudrate
	if openBaudrate == 0 {
		openBaudrate = m.bauds[0]
	}
	m.changeState(ctx, StateOpeningSerial)
	if err := m.openPort(ctx, openBaudrate); err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Error("Opening port failed", "err", err)
		m.fail(ctx, fmt.Sprintf("Connection error, see log for details: %s", err))
		return false
	}
	m.flow.Clear()
	return true
}

// probeStart enters the state the Monitor starts in, and greets the controller.
func (m *Machine) probeStart(ctx context.Context) {
	m.mu.Lock()
	baudrate := m.baudrate
	m.mu.Unlock()

	if baudrate == 0 {
		m.mu.Lock()
		m.detectRetries = 0
		m.detectBauds = append([]int(nil), m.bauds...)
		m.deadline = time.Now()
		m.mu.Unlock()
		m.changeState(ctx, StateDetectingBaudrate)
		return
	}
	m.resetDeadline(m.config.connectionTimeout)
	m.changeState(ctx, StateConnecting)
	m.hello(ctx)
}

// handleLineSafe handles a line, escalating a panic to ERROR. It returns false when the Monitor must
// stop: once closed, after a panic, or on a failure before the controller first answered. Other
// failures leave the connection open in ERROR.
func (m *Machine) handleLineSafe(ctx context.Context, line string, silence bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.MustLogger(ctx).Error(
				"Unexpected error while reading serial port",
				"recovered", r, "stack", string(debug.Stack()),
			)
			m.fail(ctx, "See log for details")
			ok = false
		}
	}()
	before := m.State()
	m.handleLine(ctx, line, silence)
	after := m.State()
	if after.isClosed() {
		return false
	}
	return after != StateError || !before.isConnecting()
}

//gocyclo:ignore
func (m *Machine) handleLine(ctx context.Context, line string, silence bool) {
	if line != "" {
		m.resetDeadline(m.config.communicationTimeout)
		m.metrics.LinesReceived.Inc()
		_, logger := log.MustWithGroup(ctx, "Serial")
		logger.Debug("Recv", "line", line)
		if strings.Contains(line, "ok") || strings.Contains(line, "error") {
			m.budget.Pop()
			m.metrics.RxBytesInFlight.Set(float64(m.budget.InFlight()))
		}
	}

	if strings.HasPrefix(line, "//") {
		m.handleAction(ctx, line)
		return
	}

	if m.handleErrors(ctx, line) || m.State().isClosed() {
		return
	}

	if m.config.grbl {
		if stop := m.handleGrbl(ctx, line); stop {
			return
		}
	}

	m.handleTemperatures(line)

	if m.config.sdSupport {
		line = m.handleSd(ctx, line)
	}

	if m.isAck(line) {
		m.flow.Release()
		m.metrics.PermitsAvailable.Set(float64(m.flow.Available()))
		m.mu.Lock()
		m.longRunning = false
		if m.heating {
			m.heatupLost += time.Since(m.heatupStart)
			m.heatupStart = time.Time{}
			m.heating = false
		}
		m.mu.Unlock()
	}

	if handler, ok := m.handler[m.State()]; ok {
		handler(ctx, line, silence)
	}
}

func (m *Machine) isAck(line string) bool {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ok") {
		return true
	}
	return m.config.supportWait && line == "wait" && m.IsPrinting()
}

// handleAction runs "//action:<name>" commands; other host comments are ignored.
func (m *Machine) handleAction(ctx context.Context, line string) {
	action, ok := strings.CutPrefix(line, "//action:")
	if !ok {
		return
	}
	action = strings.TrimSpace(action)
	logger := log.MustLogger(ctx)
	switch action {
	case "pause":
		if err := m.SetPause(ctx, true); err != nil {
			logger.Debug("Pause action ignored", "err", err)
		}
	case "resume":
		if err := m.SetPause(ctx, false); err != nil {
			logger.Debug("Resume action ignored", "err", err)
		}
	case "disconnect":
		m.shutdown(ctx, false)
	default:
		m.publish(events.Action, events.Payload{"action": action})
	}
}

var commErrorMarkers = []string{"line number", "checksum", "expected line"}

var sdErrorMarkers = []string{"volume.init", "openroot", "workdir", "error writing to file"}

// handleErrors looks for firmware errors. Transmission errors are kept for the next resend request,
// other errors fail the job and enter ERROR. It returns whether the line was such a failure.
func (m *Machine) handleErrors(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "Error:") && !strings.HasPrefix(line, "!!") {
		return false
	}
	lower := strings.ToLower(line)
	for _, marker := range commErrorMarkers {
		if strings.Contains(lower, marker) {
			m.mu.Lock()
			m.lastCommError = firmwareErrorText(line)
			m.mu.Unlock()
			return false
		}
	}
	for _, marker := range sdErrorMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if m.IsError() {
		return true
	}
	m.fail(ctx, firmwareErrorText(line))
	return true
}

func firmwareErrorText(line string) string {
	if text, ok := strings.CutPrefix(line, "Error:"); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "!!"))
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// State handlers
////////////////////////////////////////////////////////////////////////////////////////////////////

func (m *Machine) handleDetectingBaudrate(ctx context.Context, line string, silence bool) {
	logger := log.MustLogger(ctx)
	if strings.Contains(line, "start") || strings.Contains(line, "ok") {
		m.changeState(ctx, StateConnecting)
		m.onConnected(ctx, StateLocked)
		return
	}

	m.mu.Lock()
	if time.Now().Before(m.deadline) {
		m.mu.Unlock()
		return
	}
	if m.detectRetries > 0 {
		m.detectRetries--
		m.deadline = time.Now().Add(m.config.detectionTimeout)
		m.mu.Unlock()
		m.probeBaudrate(ctx)
		return
	}
	if len(m.detectBauds) > 0 {
		baudrate := m.detectBauds[0]
		m.detectBauds = m.detectBauds[1:]
		m.detectRetries = m.config.baudrateRetries
		m.deadline = time.Now().Add(m.config.connectionTimeout)
		m.mu.Unlock()

		logger.Info("Trying baudrate", "baudrate", baudrate)
		port := m.getPort()
		if port == nil {
			return
		}
		if err := port.SetMode(transport.Mode(baudrate)); err != nil {
			logger.Error("Setting baudrate failed", "baudrate", baudrate, "err", err)
			return
		}
		m.mu.Lock()
		m.baudrate = baudrate
		m.mu.Unlock()
		m.reader.reset()
		m.budget.Clear()
		m.probeBaudrate(ctx)
		return
	}
	m.mu.Unlock()

	logger.Error("Baudrate detection failed", "err", ErrNoBaudrateFound)
	m.fail(ctx, "No more baudrates to test, and no suitable baudrate found.")
}

// probeBaudrate pokes the controller so it answers if the baud rate is right.
func (m *Machine) probeBaudrate(ctx context.Context) {
	m.sendMu.Lock()
	err := m.writeRaw(ctx, "\n")
	m.sendMu.Unlock()
	if err != nil {
		log.MustLogger(ctx).Debug("Probe failed", "err", err)
	}
	if m.config.grbl {
		m.sendCommand(ctx, "$", "")
	} else {
		m.sendCommand(ctx, "M110", "")
	}
	m.flow.Release()
}

func (m *Machine) handleConnecting(ctx context.Context, line string, silence bool) {
	switch {
	case strings.HasPrefix(line, "Grbl"):
		m.onConnected(ctx, StateLocked)
	case strings.HasPrefix(line, "<Idle"):
		m.onConnected(ctx, StateOperational)
	case !m.config.grbl && (strings.Contains(line, "start") || strings.HasPrefix(line, "ok")):
		m.onConnected(ctx, StateOperational)
	default:
		m.mu.Lock()
		expired := silence && time.Now().After(m.deadline)
		m.mu.Unlock()
		if expired {
			log.MustLogger(ctx).Warn("No answer from the controller, greeting again")
			m.resetDeadline(m.config.connectionTimeout)
			m.hello(ctx)
		}
	}
}

func (m *Machine) onConnected(ctx context.Context, next State) {
	m.resetDeadline(m.config.communicationTimeout)
	m.changeState(ctx, next)
	m.flow.Release()
	port, baudrate := m.Connection()
	m.publish(events.Connected, events.Payload{"port": port, "baudrate": baudrate})
}

func (m *Machine) handleOperational(ctx context.Context, line string, silence bool) {
	if strings.HasPrefix(line, "ok") {
		m.onOk(ctx)
		return
	}
	if isResendRequest(line) {
		m.handleResend(ctx, line)
	}
}

func (m *Machine) handlePrinting(ctx context.Context, line string, silence bool) {
	logger := log.MustLogger(ctx)
	if line == "" && silence {
		m.mu.Lock()
		expired := time.Now().After(m.deadline) && !m.longRunning && !m.heating
		m.mu.Unlock()
		if expired {
			logger.Warn("Communication timeout during printing, forcing a line")
			m.sendCommand(ctx, m.config.helloCommand, "")
			m.flow.Release()
			m.resetDeadline(m.config.communicationTimeout)
		}
		return
	}
	if m.isAck(line) {
		if !m.onOk(ctx) && !m.IsSdPrinting() {
			m.sendNext(ctx)
		}
		return
	}
	if isResendRequest(line) {
		m.handleResend(ctx, line)
	}
}

// onOk reacts to an acknowledgement, returning whether something was sent or swallowed.
func (m *Machine) onOk(ctx context.Context) bool {
	m.mu.Lock()
	if m.swallowNextOk {
		m.swallowNextOk = false
		m.mu.Unlock()
		return true
	}
	resending := m.resend.active
	m.mu.Unlock()
	if resending {
		m.resendNextCommand(ctx)
		return true
	}
	return m.sendFromQueue(ctx)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Resend
////////////////////////////////////////////////////////////////////////////////////////////////////

func isResendRequest(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "resend") || strings.HasPrefix(lower, "rs")
}

var resendReplacer = strings.NewReplacer("N:", " ", "N", " ", ":", " ")

// parseResendRequest extracts the line number from "Resend: 3", "rs N3" and the like.
func parseResendRequest(line string) (int, error) {
	fields := strings.Fields(resendReplacer.Replace(line))
	if len(fields) == 0 {
		return 0, errors.New("comm: empty resend request")
	}
	lineNumber, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("comm: resend request: %w", err)
	}
	return lineNumber, nil
}
