package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var readOpts struct {
	count    int
	interval time.Duration
	enable   bool
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Sample the main counter.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd.Context())
		if err != nil {
			return err
		}
		defer dev.Close()

		if readOpts.enable {
			dev.Enable()
		}

		out := cmd.OutOrStdout()
		start := dev.ReadTicks()
		for i := 0; i < readOpts.count; i++ {
			if i > 0 {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(readOpts.interval):
				}
			}
			ticks := dev.ReadTicks()
			elapsed, err := dev.Converter().ToDuration(ticks - start)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d\t+%s\n", ticks, elapsed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntVarP(&readOpts.count, "count", "n", 1, "number of samples")
	readCmd.Flags().DurationVar(&readOpts.interval, "interval", 100*time.Millisecond, "time between samples")
	readCmd.Flags().BoolVar(&readOpts.enable, "enable", false, "start the main counter first")
}
