package comm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/gcode"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/hooks"
	"github.com/mrbeam/mrb3-octoPrint/metrics"
)

// senderWorker transmits queued commands, one flow control permit each.
func (m *Machine) senderWorker(ctx context.Context) error {
	logger := log.MustLogger(ctx)
	for {
		if err := m.flow.Acquire(ctx); err != nil {
			return ignoreCanceled(err)
		}
		m.metrics.PermitsAvailable.Set(float64(m.flow.Available()))

		entry, err := m.queue.Get(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}
		if err := m.budget.Wait(ctx); err != nil {
			return ignoreCanceled(err)
		}

		needsAck, err := m.transmit(ctx, entry)
		if err != nil {
			if errors.Is(err, errPortClosed) {
				logger.Debug("Dropping command, port closed", "command", entry.Command)
				m.flow.Release()
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Write failed", "err", err)
			m.setError(fmt.Sprintf("Write failed: %s", err))
			m.shutdown(ctx, true)
			m.publish(events.Error, events.Payload{"error": m.ErrorString()})
			return nil
		}
		if !needsAck {
			m.flow.Release()
		}
		m.metrics.PermitsAvailable.Set(float64(m.flow.Available()))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// transmit writes entry to the port, returning whether the controller will acknowledge it.
func (m *Machine) transmit(ctx context.Context, entry QueueEntry) (bool, error) {
	if entry.Resend {
		m.sendMu.Lock()
		defer m.sendMu.Unlock()
		if err := m.writeLine(ctx, gcode.Frame(entry.LineNumber, entry.Command), false); err != nil {
			return false, err
		}
		m.metrics.Resends.Inc()
		m.metrics.LinesSent.WithLabelValues(metrics.FramingChecksum).Inc()
		return true, nil
	}

	cmd, ok := m.runPhase(ctx, hooks.PhaseSending, hooks.NewCommand(entry.Command, entry.Type))
	if !ok {
		return false, nil
	}
	realtime := grbl.IsRealTimeCommand(cmd.Text)

	m.sendMu.Lock()
	m.mu.Lock()
	state := m.State()
	framed := !realtime &&
		(cmd.ID != "" || m.config.checksumUnknown) &&
		(state == StatePrinting || state == StateTransferringFile || m.config.alwaysChecksum)
	line := cmd.Text
	if framed {
		lineNumber := m.currentLine
		m.history.Append(lineNumber, cmd.Text)
		m.currentLine++
		line = gcode.Frame(lineNumber, cmd.Text)
	} else if cmd.ID == "M110" {
		// The controller expects the line after the one given.
		m.currentLine++
	}
	m.mu.Unlock()
	err := m.writeLine(ctx, line, realtime)
	m.sendMu.Unlock()
	if err != nil {
		return false, err
	}

	framing := metrics.FramingPlain
	if framed {
		framing = metrics.FramingChecksum
	}
	m.metrics.LinesSent.WithLabelValues(framing).Inc()

	m.runPhase(ctx, hooks.PhaseSent, cmd)
	return !realtime && (cmd.ID != "" || m.config.unknownNeedAck), nil
}

// writeLine writes a line, accounting it against the controller receive buffer. Real time commands
// are written alone, without terminator, and take no buffer space. Callers hold sendMu.
func (m *Machine) writeLine(ctx context.Context, line string, realtime bool) error {
	if realtime {
		return m.writeRaw(ctx, line)
	}
	if err := m.writeRaw(ctx, line+"\n"); err != nil {
		return err
	}
	m.budget.Add(len(line) + 1)
	m.metrics.RxBytesInFlight.Set(float64(m.budget.InFlight()))
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Resend
////////////////////////////////////////////////////////////////////////////////////////////////////

// handleResend services a controller request to transmit again from a given line number.
func (m *Machine) handleResend(ctx context.Context, line string) {
	logger := log.MustLogger(ctx)
	requested, err := parseResendRequest(line)
	if err != nil {
		logger.Warn("Ignoring resend request", "line", line, "err", err)
		return
	}

	m.mu.Lock()
	m.swallowNextOk = true
	lastCommError := m.lastCommError
	m.lastCommError = ""
	delta := m.currentLine - requested

	lower := strings.ToLower(lastCommError)
	sequenceError := strings.Contains(lower, "line number") || strings.Contains(lower, "expected line")
	if sequenceError && m.resend.active && requested == m.resend.lastNumber &&
		m.resend.ignored < m.resend.initialDelta-1 {
		// Every line in flight after a bad one is rejected too, each with its own request for the
		// same line: the replay already covers them.
		m.resend.ignored++
		m.mu.Unlock()
		logger.Debug("Ignoring repeated resend request", "line_number", requested)
		return
	}

	m.resend = resendState{
		active:       true,
		delta:        delta,
		lastNumber:   requested,
		initialDelta: delta,
	}
	historyLen := m.history.Len()
	m.mu.Unlock()

	if delta == 0 {
		// The line after the last one sent: nothing to replay.
		logger.Debug("Ignoring resend request for the next line", "line_number", requested)
		m.mu.Lock()
		m.resend = resendState{}
		m.mu.Unlock()
		return
	}

	if delta < 0 || delta > historyLen || historyLen == 0 {
		errorValue := fmt.Sprintf(
			"Printer requested line %d but no sufficient history is available, can't resend",
			requested,
		)
		logger.Error(errorValue)
		m.metrics.ResendFailures.Inc()
		m.mu.Lock()
		m.resend = resendState{}
		m.mu.Unlock()
		if m.IsPrinting() {
			m.fail(ctx, errorValue)
		}
		return
	}

	logger.Info("Resending", "line_number", requested, "lines", delta)
	m.resendNextCommand(ctx)
}

// resendNextCommand queues the next history line of the resend in progress ahead of everything
// else.
func (m *Machine) resendNextCommand(ctx context.Context) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resend.active || m.resend.delta <= 0 {
		m.resend = resendState{}
		return
	}
	lineNumber := m.currentLine - m.resend.delta
	command, ok := m.history.Get(lineNumber)
	if !ok {
		log.MustLogger(ctx).Error("Line to resend is gone from history", "line_number", lineNumber)
		m.resend = resendState{}
		return
	}
	m.queue.PushFront(QueueEntry{Command: command, LineNumber: lineNumber, Resend: true})
	m.resend.delta--
	if m.resend.delta <= 0 {
		m.resend.active = false
	}
}
