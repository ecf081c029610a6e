package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
)

var unlock bool
var defaultUnlock = false

var sd bool
var defaultSd = false

// waitReady waits for the controller to accept commands, unlocking it when allowed.
func waitReady(ctx context.Context, machine *comm.Machine, ch <-chan events.Event, unlock bool) error {
	logger := log.MustLogger(ctx)
	for {
		e, err := waitEvent(ctx, ch, events.StateChanged)
		if err != nil {
			return err
		}
		switch e.Payload["to"] {
		case comm.StateOperational.String():
			return nil
		case comm.StateLocked.String():
			if !unlock {
				return errors.New("controller is locked, retry with --unlock")
			}
			logger.Info("Unlocking")
			if err := machine.SendCommand(ctx, "$X", ""); err != nil {
				return err
			}
		case comm.StateError.String(), comm.StateClosedWithError.String(), comm.StateClosed.String():
			return fmt.Errorf("connection failed: %s", machine.StateString())
		}
	}
}

var PrintCmd = &cobra.Command{
	Use:   "print path",
	Short: "Connect to the controller and print a G-Code file.",
	Long:  "Connects to the controller, prints the file and disconnects. Interrupting cancels the print.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]
		ctx, logger := log.MustWithAttrs(cmd.Context(), "path", path)
		cmd.SetContext(ctx)

		session, err := newSession(ctx)
		if err != nil {
			return err
		}
		closeCtx := context.WithoutCancel(ctx)
		defer func() { err = errors.Join(err, session.Close(closeCtx)) }()
		machine := session.Machine

		ch := session.Bus.Subscribe("Print", 1000)
		if err := machine.Connect(ctx); err != nil {
			return err
		}
		if err := waitReady(ctx, machine, ch, unlock); err != nil {
			return err
		}

		if err := machine.SelectFile(ctx, path, sd); err != nil {
			return err
		}
		if sd {
			if _, err := waitEvent(ctx, ch, events.FileSelected); err != nil {
				return err
			}
		}
		if err := machine.StartPrint(ctx); err != nil {
			return err
		}
		logger.Info("Printing")

		e, err := waitEvent(ctx, ch, events.PrintDone, events.PrintFailed, events.PrintCancelled)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("Interrupted, cancelling")
				return errors.Join(err, machine.CancelPrint(closeCtx))
			}
			return err
		}
		if e.Type != events.PrintDone {
			return fmt.Errorf("print did not complete: %s: %s", e.Type, machine.ErrorString())
		}
		logger.Info("Done", "time", e.Payload["time"])
		return nil
	}),
}

func init() {
	AddMachineFlags(PrintCmd)
	PrintCmd.Flags().BoolVar(&unlock, "unlock", defaultUnlock, "Unlock the controller when in alarm lock.")
	PrintCmd.Flags().BoolVar(&sd, "sd", defaultSd, "The file is on the controller SD card.")

	RootCmd.AddCommand(PrintCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		unlock = defaultUnlock
		sd = defaultSd
	})
}
