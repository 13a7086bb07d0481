package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyrange/hpet/internal/acpi"
)

var acpiOpts struct {
	dump   bool
	output string
}

var acpiCmd = &cobra.Command{
	Use:   "acpi",
	Short: "Decode the ACPI HPET table.",
	Long: "acpi decodes the firmware HPET table. With --sim it instead builds " +
		"the table a firmware would publish for the simulated HPET.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := acpiTable(cmd)
		if err != nil {
			return err
		}
		if acpiOpts.output != "" {
			if err := os.WriteFile(acpiOpts.output, raw, 0o644); err != nil {
				return err
			}
		}

		table, err := acpi.ParseHPET(raw)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, table.String())
		if acpiOpts.dump {
			fmt.Fprint(out, hex.Dump(raw))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(acpiCmd)
	acpiCmd.Flags().BoolVar(&acpiOpts.dump, "dump", false, "hex dump the raw table")
	acpiCmd.Flags().StringVarP(&acpiOpts.output, "output", "o", "", "also write the raw table to this file")
}

func acpiTable(cmd *cobra.Command) ([]byte, error) {
	if !opts.sim && opts.simProfile == "" {
		return os.ReadFile(opts.acpiTable)
	}

	dev, err := openDevice(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	base := uint64(defaultSimBase)
	if opts.base != "" {
		if base, err = parseBase(opts.base); err != nil {
			return nil, err
		}
	}
	caps := dev.Capabilities()
	return acpi.BuildHPET(acpi.HPETConfig{
		Address:        base,
		BlockID:        acpi.EventTimerBlockID(caps.VendorID, caps.RevisionID, caps.TimerCount, caps.Counter64Bit, caps.LegacyRouteCapable),
		MinimumTick:    0x80,
		PageProtection: acpi.PageProtection4K,
	}, acpi.DefaultOEMInfo()), nil
}
