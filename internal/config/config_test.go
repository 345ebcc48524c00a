package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/bitaxectl/internal/config"
	"codeberg.org/mutker/bitaxectl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bitaxectl.toml")
	err := os.WriteFile(configPath, []byte(content), 0o600)
	require.NoError(t, err)

	return configPath
}

func setArgs(t *testing.T, args ...string) {
	t.Helper()

	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = append([]string{"bitaxectl"}, args...)
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
voltage = 1200
frequency = 550
max_chip_temp = 62.0
tolerance = 0.08
benchmark_time = 300
sample_interval = 10
log_level = "debug"
telemetry = true
telemetry_db = "/path/to/samples.db"
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "192.168.2.26")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "192.168.2.26", cfg.Host)
	assert.Equal(t, 1200, cfg.Voltage, "Expected Voltage 1200")
	assert.Equal(t, 550, cfg.Frequency, "Expected Frequency 550")
	assert.InDelta(t, 62.0, cfg.MaxChipTemp, 1e-9)
	assert.InDelta(t, 0.08, cfg.Tolerance, 1e-9)
	assert.Equal(t, 300, cfg.BenchmarkTime)
	assert.Equal(t, 10, cfg.SampleInterval)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/samples.db", cfg.TelemetryDB)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BITAXECTL_CONFIG", "")
	setArgs(t, "192.168.2.26")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, 0, cfg.Voltage, "Expected seed voltage to come from the device")
	assert.Equal(t, 0, cfg.Frequency, "Expected seed frequency to come from the device")
	assert.Equal(t, 20, cfg.VoltageIncrement)
	assert.Equal(t, 25, cfg.FrequencyIncrement)
	assert.Equal(t, 1000, cfg.MinVoltage)
	assert.Equal(t, 1400, cfg.MaxVoltage)
	assert.Equal(t, 400, cfg.MinFrequency)
	assert.Equal(t, 1200, cfg.MaxFrequency)
	assert.Equal(t, 600, cfg.BenchmarkTime)
	assert.Equal(t, 15, cfg.SampleInterval)
	assert.Equal(t, 90, cfg.SettleTime)
	assert.Equal(t, 3, cfg.RetryBudget)
	assert.InDelta(t, 66.0, cfg.MaxChipTemp, 1e-9)
	assert.InDelta(t, 86.0, cfg.MaxVRTemp, 1e-9)
	assert.InDelta(t, 40.0, cfg.MaxPower, 1e-9)
	assert.InDelta(t, 4800.0, cfg.MinInputVoltage, 1e-9)
	assert.InDelta(t, 5500.0, cfg.MaxInputVoltage, 1e-9)
	assert.InDelta(t, 0.06, cfg.Tolerance, 1e-9)
	assert.Equal(t, 7, cfg.MinSamples)
	assert.Equal(t, 3, cfg.TrimCount)
	assert.Equal(t, 6, cfg.WarmupSamples)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.Telemetry)
}

func TestFlagOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
voltage = 1200
log_level = "warning"
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "--voltage", "1250", "--log-level", "debug", "192.168.2.26")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1250, cfg.Voltage, "Expected flag to override config file")
	assert.Equal(t, "debug", cfg.LogLevel, "Expected flag to override config file")
}

func TestMissingDeviceAddress(t *testing.T) {
	t.Setenv("BITAXECTL_CONFIG", "")
	setArgs(t)

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrMissingDevice))
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "192.168.2.26")

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "loud"
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "192.168.2.26")

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestBenchmarkWindowTooShort(t *testing.T) {
	configPath := writeConfig(t, `
benchmark_time = 60
sample_interval = 15
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "192.168.2.26")

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrShortBenchmark))
}

func TestSeedOutsideBounds(t *testing.T) {
	configPath := writeConfig(t, `
voltage = 1500
`)
	t.Setenv("BITAXECTL_CONFIG", configPath)
	setArgs(t, "192.168.2.26")

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidSeed))
}
