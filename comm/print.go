package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/job"
)

// lineSource is a job read line by line by the host.
type lineSource interface {
	Next() (string, error)
}

// SelectFile selects the job to print. With sd, path names a file on the SD card, which the
// controller opens: FILE_SELECTED is published once it confirms.
func (m *Machine) SelectFile(ctx context.Context, path string, sd bool) error {
	if m.IsBusy() {
		return ErrBusy
	}
	if sd {
		if err := m.requireSd(); err != nil {
			return err
		}
		m.sendCommand(ctx, "M23 "+path, "")
		return nil
	}

	localFile, err := job.NewLocalFile(path, m.applyTemperatureOffsets)
	if err != nil {
		return fmt.Errorf("comm: select file: %w", err)
	}
	m.replaceJob(ctx, localFile)
	m.publish(events.FileSelected, jobPayload(localFile))
	return nil
}

// UnselectFile forgets the selected job.
func (m *Machine) UnselectFile(ctx context.Context) error {
	if m.IsBusy() {
		return ErrBusy
	}
	m.replaceJob(ctx, nil)
	m.publish(events.FileDeselected, nil)
	return nil
}

func (m *Machine) replaceJob(ctx context.Context, j job.Source) {
	m.mu.Lock()
	old := m.job
	m.job = j
	m.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			log.MustLogger(ctx).Warn("Closing job failed", "err", err)
		}
	}
}

// StartPrint sends the start commands and starts the selected job.
func (m *Machine) StartPrint(ctx context.Context) error {
	if m.IsBusy() || m.State() == StateTransferringFile {
		return ErrBusy
	}
	if !m.IsOperational() {
		return ErrNotOperational
	}
	selected := m.Job()
	if selected == nil {
		return ErrNoFileSelected
	}

	m.mu.Lock()
	m.heatupLost = 0
	m.heatupStart = time.Time{}
	m.pausedTime = 0
	m.pauseStart = time.Time{}
	m.deferred = nil
	m.mu.Unlock()

	for _, command := range m.config.startCommands {
		if err := m.SendCommand(ctx, command, ""); err != nil {
			return fmt.Errorf("comm: start print: %w", err)
		}
	}

	if err := selected.Start(); err != nil {
		errorValue := fmt.Sprintf("Failed to start job: %s", err)
		m.fail(ctx, errorValue)
		return fmt.Errorf("comm: start print: %w", err)
	}
	m.changeState(ctx, StatePrinting)
	m.publish(events.PrintStarted, jobPayload(selected))

	if sdFile, ok := selected.(*job.SDFile); ok {
		m.mu.Lock()
		m.ignoreSelect = true
		runCtx := m.runCtx
		m.mu.Unlock()
		m.sendCommand(ctx, "M23 "+sdFile.Filename(), "")
		sdFile.SetPos(0)
		m.sendCommand(ctx, "M24", "")
		if runCtx != nil {
			m.sdPoller.Start(runCtx, m.config.sdStatusInterval, m.pollSd)
		}
	} else {
		m.sendNext(ctx)
	}
	m.sendFromQueue(ctx)
	return nil
}

// sendNext queues the next line of the job, finishing it at its end.
func (m *Machine) sendNext(ctx context.Context) {
	m.nextMu.Lock()
	defer m.nextMu.Unlock()

	if state := m.State(); state != StatePrinting && state != StateTransferringFile {
		return
	}
	source, ok := m.Job().(lineSource)
	if !ok {
		return
	}
	line, err := source.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			m.onJobDone(ctx)
			return
		}
		log.MustLogger(ctx).Error("Reading job failed", "err", err)
		m.fail(ctx, fmt.Sprintf("Failed to read job: %s", err))
		return
	}
	m.sendCommand(ctx, line, "")
}

func (m *Machine) onJobDone(ctx context.Context) {
	done := m.Job()
	elapsed := m.PrintTime().Seconds()

	if streaming, ok := done.(*job.StreamingFile); ok {
		m.sendCommand(ctx, "M29", "")
		m.replaceJob(ctx, nil)
		m.changeState(ctx, StateOperational)
		m.publish(events.TransferDone, events.Payload{
			"local":  streaming.LocalFilename(),
			"remote": streaming.RemoteFilename(),
			"time":   elapsed,
		})
		m.refreshSdFiles(ctx)
		return
	}

	payload := jobPayload(done)
	payload["time"] = elapsed
	m.changeState(ctx, StateOperational)
	m.publish(events.PrintDone, payload)
	for _, command := range m.config.stopCommands {
		m.sendCommand(ctx, command, "")
	}
}

// CancelPrint stops the job, sending the stop commands.
func (m *Machine) CancelPrint(ctx context.Context) error {
	if !m.IsBusy() || m.IsStreaming() {
		return ErrNotPrinting
	}
	selected := m.Job()
	sd := m.IsSdFileSelected()

	m.changeState(ctx, StateOperational)
	m.queue.Clear()
	m.mu.Lock()
	m.deferred = nil
	m.resend = resendState{}
	m.swallowNextOk = false
	m.pauseStart = time.Time{}
	m.mu.Unlock()

	for _, command := range m.config.stopCommands {
		m.sendCommand(ctx, command, "")
	}
	if sd {
		m.sendCommand(ctx, "M25", "")
		m.sendCommand(ctx, "M26 S0", "")
		m.sdPoller.Stop()
	} else if err := selected.Close(); err != nil {
		log.MustLogger(ctx).Warn("Closing job failed", "err", err)
	}

	m.publish(events.PrintCancelled, jobPayload(selected))
	return nil
}

// SetPause holds or resumes the job.
func (m *Machine) SetPause(ctx context.Context, pause bool) error {
	if m.IsStreaming() {
		return ErrNotPrinting
	}
	selected := m.Job()
	sd := m.IsSdFileSelected()

	if !pause {
		if !m.IsPaused() {
			return ErrNotPrinting
		}
		m.mu.Lock()
		if !m.pauseStart.IsZero() {
			m.pausedTime += time.Since(m.pauseStart)
			m.pauseStart = time.Time{}
		}
		m.mu.Unlock()
		m.sendCommand(ctx, grbl.RealTimeCommandCycleStartResume.Line(), "")
		m.changeState(ctx, StatePrinting)
		if sd {
			m.sendCommand(ctx, "M24", "")
			m.sendCommand(ctx, "M27", TypeSdStatusPoll)
		} else {
			m.sendNext(ctx)
		}
		m.sendFromQueue(ctx)
		m.publish(events.PrintResumed, jobPayload(selected))
		return nil
	}

	if !m.IsPrinting() {
		return ErrNotPrinting
	}
	m.mu.Lock()
	m.pauseStart = time.Now()
	m.mu.Unlock()
	m.sendCommand(ctx, grbl.RealTimeCommandFeedHold.Line(), "")
	m.changeState(ctx, StatePaused)
	if sd {
		m.sendCommand(ctx, "M25", "")
	}
	m.publish(events.PrintPaused, jobPayload(selected))
	return nil
}

// StartFileTransfer streams a local file to the SD card as remote.
func (m *Machine) StartFileTransfer(ctx context.Context, local, remote string) error {
	if err := m.requireSd(); err != nil {
		return err
	}
	streaming, err := job.NewStreamingFile(local, remote)
	if err != nil {
		return fmt.Errorf("comm: start file transfer: %w", err)
	}
	if err := streaming.Start(); err != nil {
		return fmt.Errorf("comm: start file transfer: %w", err)
	}
	m.replaceJob(ctx, streaming)
	m.sendCommand(ctx, "M28 "+remote, "")
	m.publish(events.TransferStarted, events.Payload{"local": local, "remote": remote})
	return nil
}
