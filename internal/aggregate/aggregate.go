package aggregate

import (
	"fmt"
	"sort"

	"codeberg.org/mutker/bitaxectl/internal/safety"
	"codeberg.org/mutker/bitaxectl/internal/sampling"
	"gonum.org/v1/gonum/stat"
)

// Candidate is one voltage/frequency pair under evaluation
type Candidate struct {
	VoltageMV    int
	FrequencyMHz int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%dmV/%dMHz", c.VoltageMV, c.FrequencyMHz)
}

// Verdict classifies the outcome of a candidate test
type Verdict string

const (
	VerdictStable                  Verdict = "STABLE"
	VerdictUnstable                Verdict = "UNSTABLE"
	VerdictAbortedSafety           Verdict = "ABORTED_SAFETY"
	VerdictAbortedInsufficientData Verdict = "ABORTED_INSUFFICIENT_DATA"
)

// Result is the aggregated, immutable outcome of one candidate test.
// AvgVRTempC is zero when no voltage regulator readings were collected, and
// EfficiencyJTH is only meaningful when EfficiencyValid is set.
type Result struct {
	Candidate           Candidate
	Verdict             Verdict
	AbortReason         safety.Reason
	ExpectedHashrateGHs float64
	AvgHashrateGHs      float64
	AvgChipTempC        float64
	AvgVRTempC          float64
	AvgPowerW           float64
	AvgInputVoltageMV   float64
	EfficiencyJTH       float64
	EfficiencyValid     bool
	SampleCount         int
}

type Config struct {
	MinSamples    int     // below this the test yields no statistics
	TrimCount     int     // hashrate readings dropped from each extreme
	WarmupSamples int     // leading samples excluded from temperature averages
	Tolerance     float64 // allowed shortfall against the expected hashrate
}

// Aggregator turns raw sample series into candidate results
type Aggregator struct {
	cfg Config
}

func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate computes the result for a candidate test that ran to completion
func (a *Aggregator) Aggregate(cand Candidate, expectedGHs float64, samples []sampling.Sample) Result {
	if len(samples) < a.cfg.MinSamples {
		return Aborted(cand, expectedGHs, VerdictAbortedInsufficientData, "", len(samples))
	}

	result := Result{
		Candidate:           cand,
		ExpectedHashrateGHs: expectedGHs,
		SampleCount:         len(samples),
		AvgHashrateGHs:      a.trimmedHashrateMean(samples),
		AvgPowerW:           stat.Mean(collect(samples, func(s sampling.Sample) float64 { return s.PowerW }), nil),
		AvgInputVoltageMV:   stat.Mean(collect(samples, func(s sampling.Sample) float64 { return s.InputVoltageMV }), nil),
	}
	result.AvgChipTempC, result.AvgVRTempC = a.temperatureMeans(samples)

	if result.AvgHashrateGHs > 0 {
		result.EfficiencyJTH = result.AvgPowerW / (result.AvgHashrateGHs / 1000)
		result.EfficiencyValid = true
	}

	if result.EfficiencyValid && result.AvgHashrateGHs >= (1-a.cfg.Tolerance)*expectedGHs {
		result.Verdict = VerdictStable
	} else {
		result.Verdict = VerdictUnstable
	}

	return result
}

// Aborted builds the result record for a test that ended without statistics
func Aborted(cand Candidate, expectedGHs float64, verdict Verdict, reason safety.Reason, sampleCount int) Result {
	return Result{
		Candidate:           cand,
		Verdict:             verdict,
		AbortReason:         reason,
		ExpectedHashrateGHs: expectedGHs,
		SampleCount:         sampleCount,
	}
}

// trimmedHashrateMean drops the highest and lowest readings before
// averaging. Series too short to trim are averaged whole.
func (a *Aggregator) trimmedHashrateMean(samples []sampling.Sample) float64 {
	rates := collect(samples, func(s sampling.Sample) float64 { return s.HashrateGHs })
	sort.Float64s(rates)

	if len(rates) > 2*a.cfg.TrimCount {
		rates = rates[a.cfg.TrimCount : len(rates)-a.cfg.TrimCount]
	}

	return stat.Mean(rates, nil)
}

// temperatureMeans averages chip and VR temperature over the samples after
// the warmup period. Readings taken while the chip ramps up would otherwise
// skew the averages.
func (a *Aggregator) temperatureMeans(samples []sampling.Sample) (chip, vr float64) {
	settled := samples
	if len(samples) > a.cfg.WarmupSamples {
		settled = samples[a.cfg.WarmupSamples:]
	}

	chip = stat.Mean(collect(settled, func(s sampling.Sample) float64 { return s.ChipTempC }), nil)

	var vrTemps []float64
	for _, s := range settled {
		if s.HasVRTemp() {
			vrTemps = append(vrTemps, s.VRTempC)
		}
	}
	if len(vrTemps) > 0 {
		vr = stat.Mean(vrTemps, nil)
	}

	return chip, vr
}

func collect(samples []sampling.Sample, field func(sampling.Sample) float64) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = field(s)
	}
	return values
}
