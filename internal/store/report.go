package store

import (
	"github.com/dustin/go-humanize"

	"codeberg.org/mutker/bitaxectl/internal/aggregate"
	"codeberg.org/mutker/bitaxectl/internal/logger"
)

// LogDisclaimer prints the stress-test warning shown at the start of a run
func LogDisclaimer() {
	logger.Warn().Msg("This tool stress tests the device at various voltages and frequencies. " +
		"Running hardware outside standard parameters carries inherent risks.")
	logger.Warn().Msg("Ambient temperature strongly affects results; re-run the benchmark if " +
		"room conditions change substantially.")
}

// LogSummary prints the ranked end-of-run listings
func LogSummary(history []aggregate.Result) {
	top := aggregate.TopByHashrate(history, topCount)
	if len(top) == 0 {
		logger.Warn().Msg("No stable results were found during benchmarking")
		return
	}

	logger.Info().Msg("Top settings by hashrate:")
	for i, r := range top {
		logRanked(i+1, r)
	}

	logger.Info().Msg("Top settings by efficiency:")
	for i, r := range aggregate.TopByEfficiency(history, topCount) {
		logRanked(i+1, r)
	}
}

func logRanked(rank int, r aggregate.Result) {
	event := logger.Info().
		Int("rank", rank).
		Int("voltage_mv", r.Candidate.VoltageMV).
		Int("frequency_mhz", r.Candidate.FrequencyMHz).
		Str("hashrate_ghs", humanize.CommafWithDigits(r.AvgHashrateGHs, 2)).
		Str("chip_temp_c", humanize.CommafWithDigits(r.AvgChipTempC, 2))
	if r.AvgVRTempC > 0 {
		event = event.Str("vr_temp_c", humanize.CommafWithDigits(r.AvgVRTempC, 2))
	}
	if r.EfficiencyValid {
		event = event.Str("efficiency_j_th", humanize.CommafWithDigits(r.EfficiencyJTH, 2))
	}
	event.Send()
}
