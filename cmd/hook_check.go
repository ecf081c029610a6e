package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/gcode"
	"github.com/mrbeam/mrb3-octoPrint/hooks"
)

var HookCheckCmd = &cobra.Command{
	Use:   "hook-check script gcode",
	Short: "Run a hook script over a G-Code file.",
	Long:  "Loads the hook script, then passes every line of the G-Code file through all command phases, printing what would be transmitted.",
	Args:  cobra.ExactArgs(2),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		scriptPath := args[0]
		gcodePath := args[1]

		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"script", scriptPath,
			"gcode", gcodePath,
		)
		cmd.SetContext(ctx)

		hook, err := hooks.LoadScript(ctx, scriptPath)
		if err != nil {
			return err
		}
		registry := hooks.NewRegistry()
		if err := registry.Register(scriptPath, hook); err != nil {
			return err
		}

		f, err := os.Open(gcodePath)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, f.Close()) }()

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, closeOutput(w)) }()

		logger.Info("Running")
		scanner := bufio.NewScanner(f)
		suppressed := 0
		for scanner.Scan() {
			text := gcode.Process(scanner.Text())
			if text == "" {
				continue
			}
			command := hooks.NewCommand(text, "")
			ok := true
			for _, phase := range hooks.Phases {
				if command, ok = registry.Run(ctx, phase, command); !ok {
					break
				}
			}
			if !ok {
				suppressed++
				continue
			}
			if _, err := fmt.Fprintln(w, command.Text); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		logger.Info("Done", "suppressed", suppressed)
		return nil
	}),
}

func init() {
	AddOutputFlags(HookCheckCmd)

	RootCmd.AddCommand(HookCheckCmd)
}
