// Command hpetctl inspects and exercises an HPET, either the platform's own
// block through /dev/mem or a simulated one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tinyrange/hpet"
	"github.com/tinyrange/hpet/internal/acpi"
	"github.com/tinyrange/hpet/internal/devices/hpetsim"
	"github.com/tinyrange/hpet/mmio"
)

const (
	defaultSimBase   = 0xFED00000
	simTickInterval  = time.Millisecond
	envDevMem        = "HPET_DEVMEM"
	envBase          = "HPET_BASE"
	envSimProfile    = "HPET_SIM_PROFILE"
	envLogLevel      = "HPET_LOG_LEVEL"
	envACPITablePath = "HPET_ACPI_TABLE"
)

var opts struct {
	logLevel   string
	devMem     string
	base       string
	acpiTable  string
	sim        bool
	simProfile string
}

var rootCmd = &cobra.Command{
	Use:   "hpetctl",
	Short: "Inspect and exercise a High Precision Event Timer.",
	Long: "hpetctl reads the HPET capabilities, main counter and comparators. " +
		"It drives the platform HPET through /dev/mem, or a simulated HPET " +
		"with --sim.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error) ["+envLogLevel+"]")
	flags.StringVar(&opts.devMem, "devmem", mmio.DefaultDevMem, "physical memory device ["+envDevMem+"]")
	flags.StringVar(&opts.base, "base", "", "HPET base address; read from the ACPI table when empty ["+envBase+"]")
	flags.StringVar(&opts.acpiTable, "acpi-table", acpi.DefaultHPETTablePath, "ACPI HPET table ["+envACPITablePath+"]")
	flags.BoolVar(&opts.sim, "sim", false, "use a simulated HPET")
	flags.StringVar(&opts.simProfile, "sim-profile", "", "YAML profile for the simulated HPET; implies --sim ["+envSimProfile+"]")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads .env, fills unset flags from the environment and installs the
// logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	for name, key := range map[string]string{
		"log-level":   envLogLevel,
		"devmem":      envDevMem,
		"base":        envBase,
		"acpi-table":  envACPITablePath,
		"sim-profile": envSimProfile,
	} {
		if err := envDefault(cmd.Flags(), name, key); err != nil {
			return err
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func envDefault(flags *pflag.FlagSet, name, key string) error {
	f := flags.Lookup(name)
	if f == nil || f.Changed {
		return nil
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("%s=%q: %w", key, v, err)
		}
	}
	return nil
}

// device is an attached driver plus whatever keeps its register block alive.
type device struct {
	*hpet.Driver
	close func() error
}

func (d *device) Close() error { return d.close() }

func parseBase(s string) (uint64, error) {
	base, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base address %q: %w", s, err)
	}
	return base, nil
}

func openDevice(ctx context.Context) (*device, error) {
	if opts.sim || opts.simProfile != "" {
		return openSim(ctx)
	}
	return openPhysical()
}

func openSim(ctx context.Context) (*device, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	base := uint64(defaultSimBase)
	if opts.base != "" {
		if base, err = parseBase(opts.base); err != nil {
			return nil, err
		}
	}

	sim, err := hpetsim.New(base, profile, hpetsim.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	drv, err := hpet.New(mmio.NewHandler(sim, base, slog.Default()))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sim.Run(ctx, simTickInterval)
	}()
	slog.Debug("hpetctl: simulated HPET", "base", fmt.Sprintf("%#x", base), "timers", len(profile.Timers))

	return &device{Driver: drv, close: func() error {
		cancel()
		<-done
		return nil
	}}, nil
}

func loadProfile() (hpetsim.Profile, error) {
	if opts.simProfile == "" {
		return hpetsim.DefaultProfile(), nil
	}
	return hpetsim.LoadProfile(opts.simProfile)
}

func openPhysical() (*device, error) {
	var base uint64
	if opts.base != "" {
		var err error
		if base, err = parseBase(opts.base); err != nil {
			return nil, err
		}
	} else {
		table, err := acpi.LoadHPET(opts.acpiTable)
		if err != nil {
			return nil, fmt.Errorf("locate HPET (use --base or --sim): %w", err)
		}
		base = table.BaseAddress.Address
		slog.Debug("hpetctl: HPET from ACPI", "table", table.String())
	}

	m, err := mmio.MapPhysical(opts.devMem, base, hpet.MMIOSize, true)
	if err != nil {
		return nil, err
	}
	drv, err := hpet.New(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &device{Driver: drv, close: m.Close}, nil
}
