package main

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tinyrange/hpet"
)

const waitPollInterval = 50 * time.Microsecond

var waitOpts struct {
	timer    int
	irq      int
	legacy   bool
	msi      int
	periodic int
	progress bool
}

var waitCmd = &cobra.Command{
	Use:   "wait DURATION",
	Short: "Arm a comparator and poll until it fires.",
	Long: "wait arms one comparator for DURATION and polls its interrupt status " +
		"until it fires, then reports how long that took by the main counter. " +
		"With --periodic N the comparator is armed periodically and N firings " +
		"are collected.",
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)
	f := waitCmd.Flags()
	f.IntVar(&waitOpts.timer, "timer", 0, "comparator index")
	f.IntVar(&waitOpts.irq, "irq", -1, "I/O APIC input; the lowest routable one when negative")
	f.BoolVar(&waitOpts.legacy, "legacy", false, "use legacy replacement routing")
	f.IntVar(&waitOpts.msi, "msi", -1, "deliver this vector over the FSB instead of an I/O APIC input")
	f.IntVar(&waitOpts.periodic, "periodic", 0, "fire periodically and collect this many firings")
	f.BoolVar(&waitOpts.progress, "progress", true, "show a progress bar on a terminal")
}

func runWait(cmd *cobra.Command, args []string) error {
	after, err := time.ParseDuration(args[0])
	if err != nil {
		return err
	}

	dev, err := openDevice(cmd.Context())
	if err != nil {
		return err
	}
	defer dev.Close()

	delivery, err := waitDelivery(dev.Driver)
	if err != nil {
		return err
	}
	mode, firings := hpet.OneShot, 1
	if waitOpts.periodic > 0 {
		mode, firings = hpet.Periodic, waitOpts.periodic
	}

	if !dev.Enabled() {
		dev.Enable()
		defer dev.Disable()
	}
	if err := dev.Configure(waitOpts.timer, mode, delivery); err != nil {
		return err
	}
	defer dev.Disarm(waitOpts.timer)

	bar := newWaitBar(after*time.Duration(firings), mode)
	start := dev.ReadTicks()
	if err := dev.ArmAfter(waitOpts.timer, after); err != nil {
		return err
	}
	slog.Debug("hpetctl: armed", "timer", waitOpts.timer, "mode", mode, "delivery", delivery, "after", after)

	// Give up well past the deadline; a comparator that never fires usually
	// means the counter is not running.
	window := after*time.Duration(firings)*4 + time.Second
	deadline := time.Now().Add(window)
	out := cmd.OutOrStdout()
	for seen := 0; seen < firings; {
		fired, err := dev.IsFiring(waitOpts.timer)
		if err != nil {
			return err
		}
		elapsed, err := dev.Elapsed(start)
		if err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Set64(int64(min(elapsed, after*time.Duration(firings)) / time.Microsecond))
		}
		if fired {
			seen++
			if bar != nil {
				_ = bar.Clear()
			}
			fmt.Fprintf(out, "fired %d/%d after %s\n", seen, firings, elapsed)
			continue
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timer %d did not fire within %s", waitOpts.timer, window)
		}
		time.Sleep(waitPollInterval)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return nil
}

func newWaitBar(total time.Duration, mode hpet.Mode) *progressbar.ProgressBar {
	if !waitOpts.progress || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions64(int64(total/time.Microsecond),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("timer %d (%s)", waitOpts.timer, mode)),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(20*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func waitDelivery(drv *hpet.Driver) (hpet.Delivery, error) {
	switch {
	case waitOpts.legacy:
		return hpet.LegacyRouting(), nil
	case waitOpts.msi >= 0:
		if waitOpts.msi > 0xFF {
			return hpet.Delivery{}, fmt.Errorf("msi vector %d out of range", waitOpts.msi)
		}
		return hpet.MessageSignaled(uint8(waitOpts.msi)), nil
	case waitOpts.irq >= 0:
		if waitOpts.irq > 0xFF {
			return hpet.Delivery{}, fmt.Errorf("irq %d out of range", waitOpts.irq)
		}
		return hpet.StandardIRQ(uint8(waitOpts.irq)), nil
	}

	caps, err := drv.TimerCaps(waitOpts.timer)
	if err != nil {
		return hpet.Delivery{}, err
	}
	if caps.RouteCapability == 0 {
		return hpet.Delivery{}, fmt.Errorf("timer %d has no I/O APIC routes; use --legacy or --msi", waitOpts.timer)
	}
	return hpet.StandardIRQ(uint8(bits.TrailingZeros32(caps.RouteCapability))), nil
}
