package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/transport"
)

var PortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the ports and baudrates a connection would try.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		logger := log.MustLogger(ctx)

		s, err := loadSettings()
		if err != nil {
			return err
		}

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, closeOutput(w)) }()

		if _, err := fmt.Fprintln(w, "Candidate ports:"); err != nil {
			return err
		}
		for _, name := range transport.ListPorts(ctx, s) {
			if _, err := fmt.Fprintf(w, "  %s\n", name); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintln(w, "Detected ports:"); err != nil {
			return err
		}
		details, err := transport.DetailedPorts()
		if err != nil {
			logger.Warn("Failed to enumerate ports", "err", err)
		}
		for _, detail := range details {
			if _, err := fmt.Fprintf(w, "  %s\n", detail); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintln(w, "Baudrates:"); err != nil {
			return err
		}
		for _, baud := range transport.ListBauds(s) {
			if _, err := fmt.Fprintf(w, "  %d\n", baud); err != nil {
				return err
			}
		}
		return nil
	}),
}

func init() {
	AddOutputFlags(PortsCmd)

	RootCmd.AddCommand(PortsCmd)
}

// closeOutput closes w unless it is a standard stream.
func closeOutput(w io.WriteCloser) error {
	if !outputValue.IsFile() {
		return nil
	}
	return w.Close()
}
