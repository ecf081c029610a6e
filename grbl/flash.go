package grbl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fornellas/slogxt/log"
)

// Flasher writes a firmware image to the controller on a closed port.
type Flasher interface {
	Flash(ctx context.Context, port string, baudrate int) error
}

// FlasherFunc adapts a function to a Flasher.
type FlasherFunc func(ctx context.Context, port string, baudrate int) error

func (f FlasherFunc) Flash(ctx context.Context, port string, baudrate int) error {
	return f(ctx, port, baudrate)
}

// ExitError reports a flashing utility that ran and failed.
type ExitError struct {
	ReturnCode int
	Output     string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("avrdude returncode: %d", e.ReturnCode)
}

// Avrdude flashes through the avrdude utility.
type Avrdude struct {
	// Command is the avrdude executable.
	Command    string
	HexFile    string
	Part       string
	Programmer string
}

// Args gives the avrdude arguments to flash port at baudrate.
func (a *Avrdude) Args(port string, baudrate int) []string {
	return []string{
		"-p" + a.Part,
		"-c" + a.Programmer,
		"-b" + strconv.Itoa(baudrate),
		"-P" + port,
		"-D",
		"-Uflash:w:" + a.HexFile + ":i",
	}
}

func (a *Avrdude) Flash(ctx context.Context, port string, baudrate int) error {
	if a.HexFile == "" {
		return errors.New("grbl: flash: no firmware image configured")
	}
	ctx, logger := log.MustWithGroupAttrs(ctx, "Flash", "port", port, "baudrate", baudrate)
	args := a.Args(port, baudrate)
	logger.Info("Flashing firmware", "command", a.Command, "args", strings.Join(args, " "))

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Command, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Error("Flashing failed", "output", output.String())
			return &ExitError{ReturnCode: exitErr.ExitCode(), Output: output.String()}
		}
		return fmt.Errorf("grbl: flash: %w", err)
	}
	logger.Info("Flashed firmware")
	return nil
}
