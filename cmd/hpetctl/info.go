package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the HPET capabilities and comparators.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd.Context())
		if err != nil {
			return err
		}
		defer dev.Close()

		caps := dev.Capabilities()
		conv := dev.Converter()
		out := cmd.OutOrStdout()

		counterWidth := "32-bit"
		if caps.Counter64Bit {
			counterWidth = "64-bit"
		}
		writeTable(out, [][]string{
			{"Vendor", fmt.Sprintf("%#04x", caps.VendorID)},
			{"Revision", fmt.Sprint(caps.RevisionID)},
			{"Period", fmt.Sprintf("%d fs (%d Hz)", caps.PeriodFemtoseconds, caps.FrequencyHz())},
			{"Resolution", conv.Resolution().String()},
			{"Counter", counterWidth},
			{"Legacy routing", fmt.Sprintf("capable=%v enabled=%v", caps.LegacyRouteCapable, dev.LegacyRouting())},
			{"Enabled", fmt.Sprint(dev.Enabled())},
			{"Main counter", fmt.Sprint(dev.ReadTicks())},
		})
		fmt.Fprintln(out)

		rows := [][]string{{"TIMER", "PERIODIC", "64-BIT", "FSB", "ROUTES", "STATE"}}
		for _, t := range dev.Timers() {
			state, err := dev.State(t.Index)
			if err != nil {
				return err
			}
			rows = append(rows, []string{
				fmt.Sprint(t.Index),
				yesNo(t.PeriodicCapable),
				yesNo(t.Size64Capable),
				yesNo(t.FSBCapable),
				formatRoutes(t.RouteCapability),
				state.String(),
			})
		}
		writeTable(out, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatRoutes lists the I/O APIC inputs set in a route capability mask.
func formatRoutes(mask uint32) string {
	if mask == 0 {
		return "-"
	}
	var irqs []string
	for irq := 0; irq < 32; irq++ {
		if mask&(1<<irq) != 0 {
			irqs = append(irqs, fmt.Sprint(irq))
		}
	}
	return strings.Join(irqs, ",")
}

// writeTable prints rows with columns padded to their widest cell.
func writeTable(w io.Writer, rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
			}
		}
		fmt.Fprintln(w, b.String())
	}
}
