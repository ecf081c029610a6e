package comm

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/gcode"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/hooks"
)

var eepromWriteRegexp = regexp.MustCompile(`^\$[0-9]+=.+$`)

const specialCommandsHelp = `Special commands:
  /togglestatusreport          enable or disable status polling
  /setstatusfrequency <secs>   set the status polling interval (default 1)
  /disconnect                  close the connection`

// SendCommand sends a command to the controller. Comments are stripped. Lines starting with "/" are
// local commands, never transmitted. While a local job prints, commands are deferred and sent
// between job lines. cmdType optionally tags the command: a command whose type is already pending
// replaces it. In ERROR the connection is still open, so commands such as a status query or a
// reset may bring the controller back.
func (m *Machine) SendCommand(ctx context.Context, command, cmdType string) error {
	logger := log.MustLogger(ctx)
	command = gcode.Process(command)
	if command == "" {
		return nil
	}
	if special, ok := strings.CutPrefix(command, "/"); ok {
		m.specialCommand(ctx, special)
		return nil
	}

	state := m.State()
	if m.config.grbl && state == StatePrinting && eepromWriteRegexp.MatchString(command) {
		logger.Warn("Configuration changes during print are not allowed", "command", command)
		return nil
	}
	if state == StatePrinting && !m.IsSdFileSelected() && gcode.CommandID(command) != "M112" {
		m.deferCommand(QueueEntry{Command: command, Type: cmdType})
		return nil
	}
	if state.IsOperational() || state == StateLocked || state == StateHoming || state == StateError {
		m.sendCommand(ctx, command, cmdType)
		return nil
	}
	return ErrNotOperational
}

// deferCommand keeps a command until the next acknowledgement during a print.
func (m *Machine) deferCommand(entry QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Type != "" {
		for i := range m.deferred {
			if m.deferred[i].Type == entry.Type {
				m.deferred[i].Command = entry.Command
				return
			}
		}
	}
	m.deferred = append(m.deferred, entry)
}

// sendFromQueue sends the oldest deferred command, returning whether there was one.
func (m *Machine) sendFromQueue(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.deferred) == 0 {
		m.mu.Unlock()
		return false
	}
	entry := m.deferred[0]
	m.deferred = m.deferred[1:]
	m.mu.Unlock()
	m.sendCommand(ctx, entry.Command, entry.Type)
	return true
}

func (m *Machine) specialCommand(ctx context.Context, special string) {
	logger := log.MustLogger(ctx)
	fields := strings.Fields(special)
	if len(fields) == 0 {
		logger.Info(specialCommandsHelp)
		return
	}
	switch strings.ToLower(fields[0]) {
	case "togglestatusreport":
		m.mu.Lock()
		m.statusReports = !m.statusReports
		enabled := m.statusReports
		m.mu.Unlock()
		logger.Info("Status reports", "enabled", enabled)
		if !enabled {
			m.statusPoller.Stop()
		} else if state := m.State(); state == StateOperational || state == StateLocked {
			m.startStatusPoller()
		}
	case "setstatusfrequency":
		interval := time.Second
		if len(fields) > 1 {
			seconds, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || seconds <= 0 {
				logger.Error("Bad status frequency", "value", fields[1])
				return
			}
			interval = time.Duration(seconds * float64(time.Second))
		}
		m.mu.Lock()
		m.statusInterval = interval
		m.mu.Unlock()
		logger.Info("Status report interval", "interval", interval)
		if m.statusPoller.Running() {
			m.startStatusPoller()
		}
	case "disconnect":
		m.shutdown(ctx, false)
	default:
		logger.Warn("Unknown special command", "command", "/"+special)
		logger.Info(specialCommandsHelp)
	}
}

// sendCommand queues a command through the queuing and queued phases.
func (m *Machine) sendCommand(ctx context.Context, command, cmdType string) {
	cmd := hooks.NewCommand(command, cmdType)
	streaming := m.IsStreaming()
	if !streaming {
		var ok bool
		if cmd, ok = m.runPhase(ctx, hooks.PhaseQueuing, cmd); !ok {
			return
		}
		if eventType, ok := events.ForCommand(cmd.ID); ok {
			m.publish(eventType, events.Payload{"command": cmd.Text})
		}
	}
	if err := m.queue.Put(QueueEntry{Command: cmd.Text, Type: cmd.Type}); err != nil {
		if errors.Is(err, ErrTypeAlreadyQueued) {
			log.MustLogger(ctx).Debug("Command of this type already queued", "command", cmd.Text, "type", cmd.Type)
			return
		}
		panic("bug: unexpected queue error: " + err.Error())
	}
	if !streaming {
		m.runPhase(ctx, hooks.PhaseQueued, cmd)
	}
}

// runPhase passes cmd through the registered hooks, then the built in handling of its identifier.
func (m *Machine) runPhase(ctx context.Context, phase hooks.Phase, cmd hooks.Command) (hooks.Command, bool) {
	ctx, _ = log.MustWithGroup(ctx, "Hooks")
	cmd, ok := m.hooks.Run(ctx, phase, cmd)
	if !ok {
		return cmd, false
	}

	switch phase {
	case hooks.PhaseQueuing:
		return m.builtinQueuing(ctx, cmd)
	case hooks.PhaseSending:
		m.builtinSending(cmd)
	case hooks.PhaseSent:
		m.builtinSent(ctx, cmd)
	}
	return cmd, true
}

func (m *Machine) builtinQueuing(ctx context.Context, cmd hooks.Command) (hooks.Command, bool) {
	logger := log.MustLogger(ctx)
	switch cmd.ID {
	case "M0", "M1":
		if err := m.SetPause(ctx, true); err != nil {
			logger.Debug("Pause ignored", "command", cmd.Text, "err", err)
		}
		return cmd, false
	case "M112":
		if err := m.CancelPrint(ctx); err != nil {
			logger.Debug("No print to cancel", "err", err)
		}
	}
	return cmd, true
}

func (m *Machine) builtinSending(cmd hooks.Command) {
	if cmd.ID == "M110" {
		lineNumber := 0
		if n, ok := gcode.Argument(cmd.Text, 'N'); ok {
			lineNumber = int(n)
		}
		m.sendMu.Lock()
		m.mu.Lock()
		m.currentLine = lineNumber
		m.history.Clear()
		m.resend = resendState{}
		m.mu.Unlock()
		m.sendMu.Unlock()
	}
	if m.config.longRunning[cmd.ID] {
		m.mu.Lock()
		m.longRunning = true
		m.mu.Unlock()
	}
}

//gocyclo:ignore
func (m *Machine) builtinSent(ctx context.Context, cmd hooks.Command) {
	switch cmd.ID {
	case "H":
		m.changeState(ctx, StateHoming)
	case gcode.CommandHold:
		if m.IsPrinting() {
			m.changeState(ctx, StatePaused)
		}
	case gcode.CommandResume:
		if m.IsPaused() {
			m.changeState(ctx, StatePrinting)
		}
	case "T":
		if tool, ok := gcode.Argument(cmd.Text, 'T'); ok {
			m.mu.Lock()
			m.currentTool = int(tool)
			m.mu.Unlock()
		}
	case "G0", "G1":
		z, ok := gcode.Argument(cmd.Text, 'Z')
		if !ok {
			return
		}
		m.mu.Lock()
		old := m.currentZ
		changed := old == nil || *old != z
		m.currentZ = &z
		m.mu.Unlock()
		if changed {
			payload := events.Payload{"new": z, "old": nil}
			if old != nil {
				payload["old"] = *old
			}
			m.publish(events.ZChange, payload)
		}
	case "M104", "M140":
		m.setTarget(cmd.ID, cmd.Text)
	case "M109", "M190":
		m.mu.Lock()
		m.heatupStart = time.Now()
		m.longRunning = true
		m.heating = true
		m.mu.Unlock()
		m.setTarget(cmd.ID, cmd.Text)
	case "G4":
		dwell := time.Duration(0)
		if p, ok := gcode.Argument(cmd.Text, 'P'); ok {
			dwell = time.Duration(p * float64(time.Millisecond))
		} else if s, ok := gcode.Argument(cmd.Text, 'S'); ok {
			dwell = time.Duration(s * float64(time.Second))
		}
		m.resetDeadline(m.config.communicationTimeout + dwell)
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Polling
////////////////////////////////////////////////////////////////////////////////////////////////////

func (m *Machine) startStatusPoller() {
	m.mu.Lock()
	enabled := m.statusReports
	interval := m.statusInterval
	ctx := m.runCtx
	m.mu.Unlock()
	if !enabled || ctx == nil || interval <= 0 {
		return
	}
	m.statusPoller.Start(ctx, interval, m.pollStatus)
}

func (m *Machine) statusPollCommand() string {
	if m.config.grbl {
		return grbl.RealTimeCommandStatusReportQuery.Line()
	}
	return "M105"
}

// pollStatus queues a status query, unless a long running command or a file transfer is going on.
func (m *Machine) pollStatus(ctx context.Context) {
	state := m.State()
	if state != StateOperational && state != StateLocked {
		return
	}
	m.mu.Lock()
	busy := m.longRunning || m.heating
	m.mu.Unlock()
	if busy || m.IsStreaming() {
		return
	}
	m.sendCommand(ctx, m.statusPollCommand(), TypeStatusPoll)
}

// pollSd queues an SD print progress query.
func (m *Machine) pollSd(ctx context.Context) {
	if !m.IsOperational() || !m.IsSdPrinting() {
		return
	}
	m.mu.Lock()
	busy := m.longRunning || m.heating
	m.mu.Unlock()
	if busy {
		return
	}
	m.sendCommand(ctx, "M27", TypeSdStatusPoll)
}
