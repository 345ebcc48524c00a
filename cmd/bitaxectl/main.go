package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"codeberg.org/mutker/bitaxectl/internal/aggregate"
	"codeberg.org/mutker/bitaxectl/internal/config"
	"codeberg.org/mutker/bitaxectl/internal/device"
	"codeberg.org/mutker/bitaxectl/internal/logger"
	"codeberg.org/mutker/bitaxectl/internal/safety"
	"codeberg.org/mutker/bitaxectl/internal/sampling"
	"codeberg.org/mutker/bitaxectl/internal/store"
	"codeberg.org/mutker/bitaxectl/internal/telemetry"
	"codeberg.org/mutker/bitaxectl/internal/tuner"
)

const (
	fallbackVoltage   = 1150 // mV
	fallbackFrequency = 500  // MHz

	infoTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bitaxectl: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: bitaxectl [flags] <device-address>")
		return 1
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "bitaxectl: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	store.LogDisclaimer()

	client := device.New(cfg.Host)
	seed, profile := seedAndProfile(ctx, client, cfg)

	runID := uuid.NewString()
	logger.Info().
		Str("run_id", runID).
		Str("host", cfg.Host).
		Str("seed", seed.String()).
		Msg("Starting benchmark run")

	recorder, err := telemetry.NewRecorder(telemetry.Config{
		Enabled: cfg.Telemetry,
		DBPath:  cfg.TelemetryDB,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize sample recorder")
		return 1
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close sample recorder")
		}
	}()

	results, err := store.NewFileStore(cfg.ResultsDir, cfg.Host, runID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize results store")
		return 1
	}

	monitor := safety.NewMonitor(safety.Limits{
		MaxChipTempC:      cfg.MaxChipTemp,
		MaxVRTempC:        cfg.MaxVRTemp,
		MaxPowerW:         cfg.MaxPower,
		MinInputVoltageMV: cfg.MinInputVoltage,
		MaxInputVoltageMV: cfg.MaxInputVoltage,
		MinValidChipTempC: cfg.MinValidChipTemp,
	})

	engine := sampling.NewEngine(client, monitor, recorder, sampling.Config{
		Interval:    time.Duration(cfg.SampleInterval) * time.Second,
		Duration:    time.Duration(cfg.BenchmarkTime) * time.Second,
		Settle:      time.Duration(cfg.SettleTime) * time.Second,
		RetryBudget: cfg.RetryBudget,
	}, runID)

	agg := aggregate.New(aggregate.Config{
		MinSamples:    cfg.MinSamples,
		TrimCount:     cfg.TrimCount,
		WarmupSamples: cfg.WarmupSamples,
		Tolerance:     cfg.Tolerance,
	})

	controller := tuner.NewController(client, engine, agg, profile.ExpectedHashrate, results, tuner.Config{
		VoltageIncrement:   cfg.VoltageIncrement,
		FrequencyIncrement: cfg.FrequencyIncrement,
		MinVoltage:         cfg.MinVoltage,
		MaxVoltage:         cfg.MaxVoltage,
		MinFrequency:       cfg.MinFrequency,
		MaxFrequency:       cfg.MaxFrequency,
	})

	state, runErr := controller.Run(ctx, seed)
	if state != nil {
		store.LogSummary(state.History)
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Benchmark run failed")
		return 1
	}
	if state.Best == nil {
		logger.Warn().Msg("No stable configuration found, device left at seed settings")
		return 1
	}
	if !state.FinalApplied {
		logger.Error().Msg("Best configuration found but could not be applied")
		return 1
	}

	logger.Info().
		Str("candidate", state.FinalCandidate.String()).
		Float64("hashrate_ghs", state.Best.AvgHashrateGHs).
		Msg("Device left at best configuration")

	return 0
}

// seedAndProfile reads the device's current settings to seed the search and
// to size the expected-hashrate model. An unreachable device at this stage
// falls back to conservative defaults, as a failed read here is usually a
// device still booting.
func seedAndProfile(ctx context.Context, client device.Client, cfg *config.Config) (aggregate.Candidate, device.Profile) {
	seed := aggregate.Candidate{VoltageMV: cfg.Voltage, FrequencyMHz: cfg.Frequency}
	var profile device.Profile

	infoCtx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	info, err := client.Info(infoCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read device settings, using fallback defaults")
	} else {
		profile = device.ProfileFromInfo(info)
		if seed.VoltageMV == 0 {
			seed.VoltageMV = info.CoreVoltageMV
		}
		if seed.FrequencyMHz == 0 {
			seed.FrequencyMHz = info.FrequencyMHz
		}
		logger.Info().
			Int("core_voltage_mv", info.CoreVoltageMV).
			Int("frequency_mhz", info.FrequencyMHz).
			Int("total_cores", profile.SmallCoreCount*profile.ASICCount).
			Msg("Current device settings determined")
	}

	if seed.VoltageMV == 0 {
		seed.VoltageMV = fallbackVoltage
	}
	if seed.FrequencyMHz == 0 {
		seed.FrequencyMHz = fallbackFrequency
	}

	return seed, profile
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
