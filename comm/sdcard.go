package comm

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/fornellas/slogxt/log"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/job"
)

// SdFile is an SD card file listing entry.
type SdFile struct {
	Name string
	// Size in bytes, -1 when not listed.
	Size int64
}

var (
	sdFileOpenedRegexp   = regexp.MustCompile(`File opened:\s*(.*?)\s+Size:\s*(\d+)`)
	sdPrintingByteRegexp = regexp.MustCompile(`SD printing byte\s*(\d+)\s*/\s*(\d+)`)
)

func parseSdFile(line string) SdFile {
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		if size, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
			return SdFile{Name: strings.Join(fields[:len(fields)-1], " "), Size: size}
		}
	}
	return SdFile{Name: strings.TrimSpace(line), Size: -1}
}

// handleSd reacts to the SD card dialect. It returns the line to process further, which is rewritten
// to "ok" when it acknowledges a command.
//
//gocyclo:ignore
func (m *Machine) handleSd(ctx context.Context, line string) string {
	logger := log.MustLogger(ctx)

	m.mu.Lock()
	listing := m.sdFileList
	m.mu.Unlock()
	if listing && !strings.Contains(line, "End file list") {
		if name := strings.TrimSpace(line); name != "" && !strings.HasPrefix(name, "ok") {
			m.mu.Lock()
			m.sdFiles = append(m.sdFiles, parseSdFile(line))
			m.mu.Unlock()
		}
		return line
	}

	switch {
	case strings.Contains(line, "SD init fail") ||
		strings.Contains(line, "volume.init failed") ||
		strings.Contains(line, "openRoot failed"):
		logger.Warn("SD card initialization failed", "line", line)
		m.mu.Lock()
		m.sdAvailable = false
		m.sdFiles = nil
		m.mu.Unlock()
	case strings.Contains(line, "Not SD printing"):
		if m.IsSdPrinting() {
			if sdFile, ok := m.Job().(*job.SDFile); ok {
				sdFile.SetPos(0)
			}
			m.changeState(ctx, StateOperational)
		}
	case strings.Contains(line, "SD card ok"):
		m.mu.Lock()
		wasAvailable := m.sdAvailable
		m.sdAvailable = true
		m.mu.Unlock()
		if !wasAvailable {
			m.refreshSdFiles(ctx)
		}
	case strings.Contains(line, "Begin file list"):
		m.mu.Lock()
		m.sdFiles = nil
		m.sdFileList = true
		m.mu.Unlock()
	case strings.Contains(line, "End file list"):
		m.mu.Lock()
		m.sdFileList = false
		files := make([]map[string]any, len(m.sdFiles))
		for i, f := range m.sdFiles {
			files[i] = map[string]any{"name": f.Name, "size": f.Size}
		}
		m.mu.Unlock()
		m.publish(events.SdFiles, events.Payload{"files": files})
	case strings.Contains(line, "SD printing byte"):
		match := sdPrintingByteRegexp.FindStringSubmatch(line)
		if match == nil {
			break
		}
		pos, _ := strconv.ParseInt(match[1], 10, 64)
		size, _ := strconv.ParseInt(match[2], 10, 64)
		if sdFile, ok := m.Job().(*job.SDFile); ok {
			sdFile.SetPos(pos)
			sdFile.SetSize(size)
		}
	case strings.Contains(line, "File opened"):
		m.mu.Lock()
		ignore := m.ignoreSelect
		m.mu.Unlock()
		if ignore {
			break
		}
		match := sdFileOpenedRegexp.FindStringSubmatch(line)
		if match == nil {
			break
		}
		size, _ := strconv.ParseInt(match[2], 10, 64)
		m.mu.Lock()
		m.job = job.NewSDFile(match[1], size)
		m.mu.Unlock()
	case strings.Contains(line, "File selected"):
		m.mu.Lock()
		ignore := m.ignoreSelect
		m.ignoreSelect = false
		selected := m.job
		m.mu.Unlock()
		if !ignore && selected != nil {
			m.publish(events.FileSelected, jobPayload(selected))
		}
	case strings.Contains(line, "Writing to file"):
		m.changeState(ctx, StateTransferringFile)
		return "ok"
	case strings.Contains(line, "Done printing file"):
		m.sdPoller.Stop()
		if selected := m.Job(); selected != nil {
			payload := jobPayload(selected)
			payload["time"] = m.PrintTime().Seconds()
			m.changeState(ctx, StateOperational)
			m.publish(events.PrintDone, payload)
		} else {
			m.changeState(ctx, StateOperational)
		}
	case strings.Contains(line, "Done saving file"):
		m.refreshSdFiles(ctx)
	}
	return line
}

func (m *Machine) requireSd() error {
	if !m.config.sdSupport {
		return ErrSdNotSupported
	}
	if !m.IsOperational() || m.IsBusy() {
		return ErrNotOperational
	}
	return nil
}

func (m *Machine) refreshSdFiles(ctx context.Context) {
	m.sendCommand(ctx, "M20", "")
}

// InitSdCard asks the controller to initialize the SD card.
func (m *Machine) InitSdCard(ctx context.Context) error {
	if err := m.requireSd(); err != nil {
		return err
	}
	m.sendCommand(ctx, "M21", "")
	return nil
}

// ReleaseSdCard asks the controller to release the SD card.
func (m *Machine) ReleaseSdCard(ctx context.Context) error {
	if err := m.requireSd(); err != nil {
		return err
	}
	m.sendCommand(ctx, "M22", "")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sdAvailable = false
	m.sdFiles = nil
	return nil
}

// RefreshSdFiles asks the controller to list the SD card content. The result is published as
// SD_FILES.
func (m *Machine) RefreshSdFiles(ctx context.Context) error {
	if err := m.requireSd(); err != nil {
		return err
	}
	m.refreshSdFiles(ctx)
	return nil
}

// DeleteSdFile removes a file from the SD card.
func (m *Machine) DeleteSdFile(ctx context.Context, filename string) error {
	if err := m.requireSd(); err != nil {
		return err
	}
	m.sendCommand(ctx, "M30 "+filename, "")
	m.refreshSdFiles(ctx)
	return nil
}
