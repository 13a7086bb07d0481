package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--sim", "--log-level", "error"}, args...))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestInfoOnSimulator(t *testing.T) {
	out := runCLI(t, "info")
	assert.Contains(t, out, "0x8086")
	assert.Contains(t, out, "10000000 fs (100000000 Hz)")
	assert.Contains(t, out, "TIMER  PERIODIC")
	assert.Contains(t, out, "0,1,2,3")
}

func TestWaitOnSimulator(t *testing.T) {
	out := runCLI(t, "wait", "--timer", "1", "--periodic", "3", "2ms")
	assert.Contains(t, out, "fired 1/3")
	assert.Contains(t, out, "fired 3/3")
}

func TestReadOnSimulator(t *testing.T) {
	out := runCLI(t, "read", "--enable", "-n", "3", "--interval", "5ms")
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte("\n")))
}

func TestACPIOnSimulator(t *testing.T) {
	out := runCLI(t, "acpi")
	assert.Contains(t, out, "HPET #0 at 0xfed00000 (memory)")
	assert.Contains(t, out, "comparators=3")
}

func TestProfileFromFile(t *testing.T) {
	out := runCLI(t, "--sim-profile", "../../internal/devices/hpetsim/testdata/ich.yaml", "profile")
	assert.Contains(t, out, "period_fs: 69841279")
	opts.simProfile = ""
}

func TestFormatRoutes(t *testing.T) {
	assert.Equal(t, "-", formatRoutes(0))
	assert.Equal(t, "2,8,23", formatRoutes(1<<2|1<<8|1<<23))
}
