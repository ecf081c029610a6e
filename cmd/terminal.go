package main

import (
	"context"
	"errors"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/terminal"
)

var TerminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Connect to the controller and open an interactive terminal.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, _ := log.MustWithAttrs(cmd.Context(), "port", portName)
		cmd.SetContext(ctx)

		session, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, session.Close(context.WithoutCancel(ctx))) }()

		t := terminal.New(session.Machine, session.Bus)
		viewCtx := t.WithLogger(ctx)
		if err := session.Machine.Connect(viewCtx); err != nil {
			return err
		}
		return t.Run(viewCtx)
	}),
}

func init() {
	AddMachineFlags(TerminalCmd)

	RootCmd.AddCommand(TerminalCmd)
}
