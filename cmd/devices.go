package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedpals/nfcard/nfc/libnfc"
)

// listDevices is replaced in tests.
var listDevices = libnfc.ListDevices

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List connected libnfc readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := listDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No libnfc devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintln(out, d)
			}
			return nil
		},
	}
}
