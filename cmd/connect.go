package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
)

func sprintEvent(e events.Event) string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	for _, key := range slices.Sorted(maps.Keys(e.Payload)) {
		fmt.Fprintf(&b, " %s=%v", key, e.Payload[key])
	}
	return b.String()
}

// printEvents writes every event from ch to w until ch is closed.
func printEvents(w io.Writer, ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for e := range ch {
		if e.Type == events.Position || e.Type == events.Temperature {
			continue
		}
		fmt.Fprintln(w, sprintEvent(e))
	}
}

// console sends each line read from r as a command, until EOF or ctx is done.
func console(ctx context.Context, machine *comm.Machine, r io.Reader) error {
	logger := log.MustLogger(ctx)
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			if err := machine.SendCommand(ctx, line, ""); err != nil {
				if errors.Is(err, comm.ErrNotOperational) {
					logger.Warn("Not sent", "command", line, "state", machine.StateString())
					continue
				}
				return err
			}
		}
	}
}

var ConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the controller and send commands read from stdin.",
	Long:  "Connects to the controller, then sends each line read from stdin as a command, printing published events. Lines starting with / are local commands, / alone lists them.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, _ := log.MustWithAttrs(cmd.Context(), "port", portName)
		cmd.SetContext(ctx)

		session, err := newSession(ctx)
		if err != nil {
			return err
		}

		ch := session.Bus.Subscribe("Console", 100)
		done := make(chan struct{})
		go printEvents(cmd.OutOrStdout(), ch, done)
		defer func() {
			err = errors.Join(err, session.Close(ctx))
			<-done
		}()

		if err := session.Machine.Connect(ctx); err != nil {
			return err
		}
		return console(ctx, session.Machine, os.Stdin)
	}),
}

func init() {
	AddMachineFlags(ConnectCmd)

	RootCmd.AddCommand(ConnectCmd)
}
