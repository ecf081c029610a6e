package comm

import (
	"context"
	"strings"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
)

// Position is a status report position.
type Position struct {
	Machine grbl.Coordinates
	Work    grbl.Coordinates
}

// handleGrbl reacts to Grbl specific lines. It returns true when the line must not be processed any
// further.
//
//gocyclo:ignore
func (m *Machine) handleGrbl(ctx context.Context, line string) bool {
	logger := log.MustLogger(ctx)
	state := m.State()

	if state == StateHoming && strings.HasPrefix(line, "ok") {
		m.changeState(ctx, StateOperational)
		for _, command := range m.config.homingDoneCommands {
			m.sendCommand(ctx, command, "")
		}
	}

	if !state.isConnecting() {
		switch {
		case strings.Contains(line, "Alarm lock") || strings.Contains(line, "'$H'|'$X' to unlock"):
			m.changeState(ctx, StateLocked)
		case strings.Contains(line, string(grbl.StateIdle)) && (state == StateLocked || state == StateError):
			m.changeState(ctx, StateOperational)
		case strings.Contains(line, string(grbl.StateHold)) && state == StatePrinting:
			m.changeState(ctx, StatePaused)
		}
	}

	if strings.Contains(line, "MPos:") {
		m.handleStatusReport(ctx, line)
	}

	if alarm := grbl.NewAlarmPushMessage(line); alarm != nil {
		logger.Warn("Alarm", "alarm", alarm.Error())
		if alarm.IsLimit() {
			errorValue := "Machine Limit Hit. Please reset the machine and do a homing cycle"
			m.setError(errorValue)
			m.publish(events.Error, events.Payload{"error": errorValue})
			m.publish(events.LimitsHit, nil)
			m.reopen(ctx)
			return true
		}
	}

	if strings.Contains(line, "Invalid gcode") && m.IsPrinting() {
		m.setError(line)
		m.publish(events.Error, events.Payload{"error": line})
		m.reopen(ctx)
		return true
	}

	if strings.HasPrefix(line, "Grbl") && m.IsPrinting() {
		errorValue := "Machine reset."
		m.setError(errorValue)
		m.changeState(ctx, StateLocked)
		m.publish(events.Error, events.Payload{"error": errorValue})
	}

	if version, ok := grbl.ParseWelcome(line); ok {
		if m.onWelcome(ctx, version) {
			return true
		}
	}

	if description, ok := grbl.ErrorResponseDescription(line); ok {
		logger.Warn("Error response", "line", line, "description", description)
	}

	return false
}

func (m *Machine) handleStatusReport(ctx context.Context, line string) {
	report, err := grbl.NewStatusReportPushMessage(line)
	if err != nil {
		log.MustLogger(ctx).Debug("Ignoring bad status report", "line", line, "err", err)
		return
	}

	m.mu.Lock()
	if report.WorkCoordinateOffset != nil {
		m.wco = report.WorkCoordinateOffset
	}
	if report.MachinePosition == nil {
		m.mu.Unlock()
		return
	}
	work := report.WorkPosition
	if work == nil && m.wco != nil {
		w := report.MachinePosition.Sub(*m.wco)
		work = &w
	}
	if work == nil {
		work = report.MachinePosition
	}
	m.position = &Position{Machine: *report.MachinePosition, Work: *work}
	position := *m.position
	m.mu.Unlock()

	m.publish(events.Position, events.Payload{
		"state": string(report.State),
		"mx":    position.Machine.X,
		"my":    position.Machine.Y,
		"mz":    position.Machine.Z,
		"wx":    position.Work.X,
		"wy":    position.Work.Y,
		"wz":    position.Work.Z,
	})
}

// onWelcome records the firmware version and flashes the required one when it differs. It returns
// true when the connection was taken over by flashing.
func (m *Machine) onWelcome(ctx context.Context, version grbl.Version) bool {
	logger := log.MustLogger(ctx)
	logger.Info("Firmware", "version", version.String())

	m.mu.Lock()
	m.firmware = &version
	m.mu.Unlock()

	if m.config.versionFile != "" {
		if err := grbl.WriteVersionRecord(m.config.versionFile, version, time.Now()); err != nil {
			logger.Error("Writing version record failed", "err", err)
		}
	}
	m.publish(events.Firmware, events.Payload{
		"grbl":    version.Grbl,
		"git":     version.Git,
		"dirty":   version.Dirty,
		"version": version.String(),
	})

	if m.config.requiredVersionFile == "" {
		return false
	}
	required, err := grbl.ReadVersion(m.config.requiredVersionFile)
	if err != nil {
		logger.Error("Reading required version failed", "err", err)
		return false
	}
	if required.String() == version.String() {
		return false
	}

	m.mu.Lock()
	attempted := m.flashAttempted
	m.flashAttempted = true
	m.mu.Unlock()
	if attempted {
		logger.Error(
			"Firmware still differs from the required version after flashing",
			"version", version.String(), "required", required.String(),
		)
		return false
	}

	logger.Warn("Firmware differs from the required version", "version", version.String(), "required", required.String())
	m.flash(ctx)
	return true
}

// flash writes the firmware image, then reconnects.
func (m *Machine) flash(ctx context.Context) {
	logger := log.MustLogger(ctx)
	m.changeState(ctx, StateFlashing)
	if err := m.closePort(); err != nil {
		logger.Debug("Closing port failed", "err", err)
	}

	portName, baudrate := m.Connection()
	if err := m.flasher.Flash(ctx, portName, baudrate); err != nil {
		logger.Error("Flashing failed", "err", err)
		// *grbl.ExitError reads "avrdude returncode: <n>".
		errorValue := err.Error()
		m.setError(errorValue)
		m.shutdown(ctx, true)
		m.publish(events.Error, events.Payload{"error": errorValue})
		return
	}
	logger.Info("Flashing done")
	m.reopen(ctx)
}
