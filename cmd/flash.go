package main

import (
	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/mrbeam/mrb3-octoPrint/grbl"
	"github.com/mrbeam/mrb3-octoPrint/settings"
)

var flashBaudrate int
var defaultFlashBaudrate = 115200

var flashHexFile string
var defaultFlashHexFile = ""

var FlashCmd = &cobra.Command{
	Use:   "flash port",
	Short: "Flash the Grbl firmware image with avrdude.",
	Long:  "Flashes the firmware image set with --hex-file, or the " + settings.GrblFlashHexFile + " setting, using the avrdude settings.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		port := args[0]
		ctx, _ := log.MustWithAttrs(cmd.Context(), "port", port)
		cmd.SetContext(ctx)

		s, err := loadSettings()
		if err != nil {
			return err
		}
		avrdude := &grbl.Avrdude{
			Command:    s.GetString(settings.GrblFlashCommand),
			HexFile:    s.GetString(settings.GrblFlashHexFile),
			Part:       s.GetString(settings.GrblFlashPart),
			Programmer: s.GetString(settings.GrblFlashProgrammer),
		}
		if flashHexFile != "" {
			avrdude.HexFile = flashHexFile
		}
		return avrdude.Flash(ctx, port, flashBaudrate)
	}),
}

func init() {
	FlashCmd.Flags().IntVarP(&flashBaudrate, "baudrate", "b", defaultFlashBaudrate, "Bootloader baudrate")
	FlashCmd.Flags().StringVar(&flashHexFile, "hex-file", defaultFlashHexFile, "Firmware image (Intel HEX)")

	RootCmd.AddCommand(FlashCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		flashBaudrate = defaultFlashBaudrate
		flashHexFile = defaultFlashHexFile
	})
}
