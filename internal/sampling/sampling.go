package sampling

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/bitaxectl/internal/device"
	"codeberg.org/mutker/bitaxectl/internal/logger"
	"codeberg.org/mutker/bitaxectl/internal/safety"
	"codeberg.org/mutker/bitaxectl/internal/telemetry"
)

// ReasonTelemetryLost means the device stopped answering for more
// consecutive polls than the retry budget allows
const ReasonTelemetryLost safety.Reason = "telemetry_lost"

// Sample is one accepted telemetry reading within a candidate test
type Sample struct {
	Timestamp      time.Time
	HashrateGHs    float64
	ChipTempC      float64
	VRTempC        float64
	PowerW         float64
	InputVoltageMV float64
}

// HasVRTemp reports whether the sample carries a voltage regulator temperature
func (s Sample) HasVRTemp() bool {
	return s.VRTempC > 0
}

// Outcome is the raw result of one candidate test
type Outcome struct {
	Samples []Sample
	Aborted bool
	Reason  safety.Reason
	Detail  string
}

type Config struct {
	Interval    time.Duration // time between polls
	Duration    time.Duration // total test window
	Settle      time.Duration // wait after applying a candidate before the first poll
	RetryBudget int           // consecutive failed polls tolerated
}

// Reader is the telemetry read side of the device port
type Reader interface {
	ReadTelemetry(ctx context.Context) (*device.Telemetry, error)
}

// Engine drives the fixed-duration polling loop for one candidate at a time
type Engine struct {
	reader   Reader
	monitor  *safety.Monitor
	recorder telemetry.Recorder
	cfg      Config
	runID    string
}

func NewEngine(reader Reader, monitor *safety.Monitor, recorder telemetry.Recorder, cfg Config, runID string) *Engine {
	return &Engine{
		reader:   reader,
		monitor:  monitor,
		recorder: recorder,
		cfg:      cfg,
		runID:    runID,
	}
}

// Run polls the device for the configured duration and returns the accepted
// samples. The candidate must already be applied to the device. Run blocks
// for the settle wait first, then once per interval; cancellation is
// observed at both waits. A safety abort or an exhausted retry budget ends
// the test early with the partial sample set.
func (e *Engine) Run(ctx context.Context, voltageMV, frequencyMHz int) (*Outcome, error) {
	totalPolls := int(e.cfg.Duration / e.cfg.Interval)

	logger.Info().
		Int("voltage_mv", voltageMV).
		Int("frequency_mhz", frequencyMHz).
		Int("polls", totalPolls).
		Dur("settle", e.cfg.Settle).
		Msg("Starting candidate test")

	if err := wait(ctx, e.cfg.Settle); err != nil {
		return nil, err
	}

	outcome := &Outcome{Samples: make([]Sample, 0, totalPolls)}
	failures := 0

	for poll := 1; poll <= totalPolls; poll++ {
		reading, err := e.reader.ReadTelemetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			failures++
			logger.Warn().
				Err(err).
				Int("consecutive_failures", failures).
				Int("retry_budget", e.cfg.RetryBudget).
				Msg("Telemetry read failed, discarding sample")

			if failures > e.cfg.RetryBudget {
				outcome.Aborted = true
				outcome.Reason = ReasonTelemetryLost
				outcome.Detail = "telemetry read retry budget exhausted"
				return outcome, nil
			}

			if err := waitUnlessLast(ctx, poll, totalPolls, e.cfg.Interval); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0

		if decision := e.monitor.Check(reading); decision.Abort {
			logger.Warn().
				Str("reason", string(decision.Reason)).
				Str("detail", decision.Detail).
				Msg("Safety monitor aborted candidate test")
			outcome.Aborted = true
			outcome.Reason = decision.Reason
			outcome.Detail = decision.Detail
			return outcome, nil
		}

		sample := Sample{
			Timestamp:      reading.Timestamp,
			HashrateGHs:    reading.HashrateGHs,
			ChipTempC:      reading.ChipTempC,
			VRTempC:        reading.VRTempC,
			PowerW:         reading.PowerW,
			InputVoltageMV: reading.InputVoltageMV,
		}
		outcome.Samples = append(outcome.Samples, sample)
		e.record(ctx, voltageMV, frequencyMHz, sample)
		e.logProgress(poll, totalPolls, voltageMV, frequencyMHz, sample)

		if err := waitUnlessLast(ctx, poll, totalPolls, e.cfg.Interval); err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

func (e *Engine) record(ctx context.Context, voltageMV, frequencyMHz int, s Sample) {
	err := e.recorder.Record(ctx, &telemetry.SampleRecord{
		RunID:          e.runID,
		Timestamp:      s.Timestamp,
		VoltageMV:      voltageMV,
		FrequencyMHz:   frequencyMHz,
		HashrateGHs:    s.HashrateGHs,
		ChipTempC:      s.ChipTempC,
		VRTempC:        s.VRTempC,
		PowerW:         s.PowerW,
		InputVoltageMV: s.InputVoltageMV,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record sample")
	}
}

func (e *Engine) logProgress(poll, totalPolls, voltageMV, frequencyMHz int, s Sample) {
	event := logger.Info().
		Str("progress", progress(poll, totalPolls)).
		Int("voltage_mv", voltageMV).
		Int("frequency_mhz", frequencyMHz).
		Float64("hashrate_ghs", s.HashrateGHs).
		Float64("input_voltage_mv", s.InputVoltageMV).
		Float64("chip_temp_c", s.ChipTempC)
	if s.HasVRTemp() {
		event = event.Float64("vr_temp_c", s.VRTempC)
	}
	event.Msg("Sample accepted")
}

func progress(poll, totalPolls int) string {
	pct := float64(poll) / float64(totalPolls) * 100
	return fmt.Sprintf("%d/%d (%.1f%%)", poll, totalPolls, pct)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func waitUnlessLast(ctx context.Context, poll, totalPolls int, interval time.Duration) error {
	if poll >= totalPolls {
		return ctx.Err()
	}
	return wait(ctx, interval)
}
