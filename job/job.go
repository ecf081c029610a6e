// Package job provides the file-position sources a print or transfer job reads G-code from.
package job

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mrbeam/mrb3-octoPrint/gcode"
)

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginSDCard Origin = "sdcard"
)

var (
	ErrNotStarted  = errors.New("job: not started")
	ErrUnknownSize = errors.New("job: unknown size")
)

// Source is a file being printed or transferred.
type Source interface {
	// Filename is the path or the device side name.
	Filename() string
	Origin() Origin
	// Start (re)opens the source at its beginning.
	Start() error
	StartTime() time.Time
	// Size returns the total size in bytes, or ErrUnknownSize.
	Size() (int64, error)
	// Pos returns the current byte offset.
	Pos() int64
	// Progress returns Pos / Size, or ErrUnknownSize.
	Progress() (float64, error)
	Close() error
}

type base struct {
	mu        sync.Mutex
	filename  string
	size      int64
	pos       int64
	startTime time.Time
}

func (b *base) Filename() string {
	return b.filename
}

func (b *base) StartTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startTime
}

func (b *base) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < 0 {
		return 0, ErrUnknownSize
	}
	return b.size, nil
}

func (b *base) Pos() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

func (b *base) Progress() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size <= 0 {
		return 0, ErrUnknownSize
	}
	return float64(b.pos) / float64(b.size), nil
}

// LineProcessor rewrites a G-code line before it is sent, eg: temperature offsets.
type LineProcessor func(line string) string

// LocalFile streams a file from the local filesystem, one non empty processed line at a time.
type LocalFile struct {
	base
	file    *os.File
	reader  *bufio.Reader
	process LineProcessor
}

// NewLocalFile selects the file at path. The size is taken at selection time.
func NewLocalFile(path string, process LineProcessor) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("job: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("job: %s: is a directory", path)
	}
	return &LocalFile{base: base{filename: path, size: info.Size()}, process: process}, nil
}

func (f *LocalFile) Origin() Origin {
	return OriginLocal
}

func (f *LocalFile) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			return fmt.Errorf("job: %w", err)
		}
	}
	file, err := os.Open(f.filename)
	if err != nil {
		return fmt.Errorf("job: %w", err)
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	f.pos = 0
	f.startTime = time.Now()
	return nil
}

// Next returns the next line to send. It returns io.EOF, and closes the file, once exhausted.
func (f *LocalFile) Next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reader == nil {
		return "", ErrNotStarted
	}
	for {
		raw, err := f.reader.ReadString('\n')
		f.pos += int64(len(raw))
		if raw != "" {
			line := gcode.Process(raw)
			if line != "" && f.process != nil {
				line = f.process(line)
			}
			if line != "" {
				return line, nil
			}
		}
		if err != nil {
			closeErr := f.closeLocked()
			if !errors.Is(err, io.EOF) {
				return "", errors.Join(fmt.Errorf("job: %w", err), closeErr)
			}
			if closeErr != nil {
				return "", fmt.Errorf("job: %w", closeErr)
			}
			return "", io.EOF
		}
	}
}

func (f *LocalFile) closeLocked() error {
	f.reader = nil
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *LocalFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

// SDFile is a file resident on the controller SD card. Its position is reported by the firmware.
type SDFile struct {
	base
}

// NewSDFile selects an SD card file. size may be negative when unknown.
func NewSDFile(filename string, size int64) *SDFile {
	return &SDFile{base: base{filename: filename, size: size}}
}

func (f *SDFile) Origin() Origin {
	return OriginSDCard
}

func (f *SDFile) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = 0
	f.startTime = time.Now()
	return nil
}

// SetPos records the position reported by the firmware.
func (f *SDFile) SetPos(pos int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

// SetSize records the size reported by the firmware.
func (f *SDFile) SetSize(size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = size
}

func (f *SDFile) Close() error {
	return nil
}

// StreamingFile uploads a local file to the SD card, line by line.
type StreamingFile struct {
	*LocalFile
	remote string
}

func NewStreamingFile(path, remote string) (*StreamingFile, error) {
	local, err := NewLocalFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &StreamingFile{LocalFile: local, remote: remote}, nil
}

func (f *StreamingFile) Origin() Origin {
	return OriginLocal
}

// LocalFilename is the path of the file being uploaded.
func (f *StreamingFile) LocalFilename() string {
	return f.filename
}

// RemoteFilename is the name the file gets on the SD card.
func (f *StreamingFile) RemoteFilename() string {
	return f.remote
}

// DisplayName gives a short name for the source.
func DisplayName(s Source) string {
	if s.Origin() == OriginSDCard {
		return s.Filename()
	}
	return filepath.Base(s.Filename())
}
