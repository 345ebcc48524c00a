package tuner

import (
	"context"
	"time"

	"codeberg.org/mutker/bitaxectl/internal/aggregate"
	"codeberg.org/mutker/bitaxectl/internal/errors"
	"codeberg.org/mutker/bitaxectl/internal/logger"
	"codeberg.org/mutker/bitaxectl/internal/sampling"
	"codeberg.org/mutker/bitaxectl/internal/store"
)

const (
	finalizeTimeout = 30 * time.Second

	// A second consecutive safety abort at one frequency ends the search
	// instead of walking the voltage down indefinitely
	maxSafetyAbortsPerFrequency = 2
)

// Termination names why the search stopped
type Termination string

const (
	TerminationSuccess     Termination = "max_frequency_reached"
	TerminationLimit       Termination = "search_space_exhausted"
	TerminationSafety      Termination = "safety_stop"
	TerminationInterrupted Termination = "operator_interrupt"
	TerminationApplyFailed Termination = "apply_settings_failed"
)

// searchState enumerates the controller's states
type searchState int

const (
	stateSeed searchState = iota
	stateTesting
	stateAdvanceFrequency
	stateRaiseVoltage
	stateFinalize
)

// RunState is the single mutable value describing a benchmark run. Only the
// controller writes to it; after Run returns it is read-only.
type RunState struct {
	Seed           aggregate.Candidate
	Current        aggregate.Candidate
	History        []aggregate.Result
	Best           *aggregate.Result
	Termination    Termination
	FinalCandidate aggregate.Candidate
	FinalApplied   bool
}

// Commander is the device command side the controller needs
type Commander interface {
	ApplySettings(ctx context.Context, voltageMV, frequencyMHz int) error
	Restart(ctx context.Context) error
}

// Sampler runs one candidate test and returns the raw outcome
type Sampler interface {
	Run(ctx context.Context, voltageMV, frequencyMHz int) (*sampling.Outcome, error)
}

// ExpectedHashrateFunc models the theoretical hashrate at a frequency
type ExpectedHashrateFunc func(frequencyMHz int) float64

// Config bounds the search space
type Config struct {
	VoltageIncrement   int
	FrequencyIncrement int
	MinVoltage         int
	MaxVoltage         int
	MinFrequency       int
	MaxFrequency       int
}

// Controller walks the voltage/frequency space one candidate at a time,
// bounded greedy: advance frequency while stable, raise voltage when not.
type Controller struct {
	device   Commander
	sampler  Sampler
	agg      *aggregate.Aggregator
	expected ExpectedHashrateFunc
	results  store.Writer
	cfg      Config

	state  RunState
	tested map[aggregate.Candidate]bool

	safetyAborts        int  // consecutive safety aborts at the current frequency
	insufficientRetried bool // whether the current candidate already got its retry
	fatal               error
}

func NewController(
	device Commander,
	sampler Sampler,
	agg *aggregate.Aggregator,
	expected ExpectedHashrateFunc,
	results store.Writer,
	cfg Config,
) *Controller {
	return &Controller{
		device:   device,
		sampler:  sampler,
		agg:      agg,
		expected: expected,
		results:  results,
		cfg:      cfg,
		tested:   make(map[aggregate.Candidate]bool),
	}
}

// Run executes the search starting from seed until a terminal state, then
// applies the best known configuration (or the seed) back to the device.
// An operator interrupt cancels ctx; the rollback still runs, under its own
// timeout, before Run returns.
func (c *Controller) Run(ctx context.Context, seed aggregate.Candidate) (*RunState, error) {
	c.state.Seed = seed
	c.state.Current = seed

	state := stateSeed
	for {
		if ctx.Err() != nil && state != stateFinalize {
			logger.Info().Msg("Benchmarking interrupted by operator")
			c.state.Termination = TerminationInterrupted
			state = stateFinalize
		}

		switch state {
		case stateSeed:
			state = c.applyNext(ctx, seed)
		case stateTesting:
			state = c.test(ctx)
		case stateAdvanceFrequency:
			state = c.advanceFrequency(ctx)
		case stateRaiseVoltage:
			state = c.raiseVoltage(ctx)
		case stateFinalize:
			c.finalize()
			return &c.state, c.fatal
		}
	}
}

// test runs the sampling engine for the current candidate and maps the
// outcome onto the next transition
func (c *Controller) test(ctx context.Context) searchState {
	cand := c.state.Current
	expectedGHs := c.expected(cand.FrequencyMHz)

	outcome, err := c.sampler.Run(ctx, cand.VoltageMV, cand.FrequencyMHz)
	if err != nil {
		// Only cancellation surfaces as an error from the sampler
		c.state.Termination = TerminationInterrupted
		return stateFinalize
	}

	c.tested[cand] = true

	if outcome.Aborted {
		if outcome.Reason.IsDataFault() || outcome.Reason == sampling.ReasonTelemetryLost {
			return c.handleInsufficientData(aggregate.Aborted(
				cand, expectedGHs, aggregate.VerdictAbortedInsufficientData, outcome.Reason, len(outcome.Samples)))
		}
		return c.handleSafetyAbort(ctx, aggregate.Aborted(
			cand, expectedGHs, aggregate.VerdictAbortedSafety, outcome.Reason, len(outcome.Samples)))
	}

	result := c.agg.Aggregate(cand, expectedGHs, outcome.Samples)
	if result.Verdict == aggregate.VerdictAbortedInsufficientData {
		// Enough polls succeeded to finish the window, but too many samples
		// were discarded along the way
		return c.handleInsufficientData(result)
	}

	c.append(result)

	if result.Verdict == aggregate.VerdictStable {
		return c.handleStable(result)
	}
	return c.handleUnstable(result)
}

func (c *Controller) handleStable(result aggregate.Result) searchState {
	c.safetyAborts = 0
	c.insufficientRetried = false

	if c.state.Best == nil || result.AvgHashrateGHs > c.state.Best.AvgHashrateGHs {
		best := result
		c.state.Best = &best
		logger.Info().
			Str("candidate", result.Candidate.String()).
			Float64("hashrate_ghs", result.AvgHashrateGHs).
			Msg("New best configuration")
	}

	if c.state.Current.FrequencyMHz+c.cfg.FrequencyIncrement <= c.cfg.MaxFrequency {
		return stateAdvanceFrequency
	}

	logger.Info().Msg("Reached maximum frequency with stable results")
	c.state.Termination = TerminationSuccess
	return stateFinalize
}

func (c *Controller) handleUnstable(result aggregate.Result) searchState {
	c.insufficientRetried = false

	logger.Info().
		Str("candidate", result.Candidate.String()).
		Float64("hashrate_ghs", result.AvgHashrateGHs).
		Float64("expected_ghs", result.ExpectedHashrateGHs).
		Msg("Hashrate below expected, raising voltage at same frequency")

	if c.state.Current.VoltageMV+c.cfg.VoltageIncrement <= c.cfg.MaxVoltage {
		return stateRaiseVoltage
	}

	logger.Info().Msg("Reached maximum voltage without stable results")
	c.state.Termination = TerminationLimit
	return stateFinalize
}

// handleInsufficientData retries the current candidate once; data that
// cannot be trusted twice in a row ends the search
func (c *Controller) handleInsufficientData(result aggregate.Result) searchState {
	if !c.insufficientRetried {
		c.insufficientRetried = true
		logger.Warn().
			Str("candidate", result.Candidate.String()).
			Str("reason", string(result.AbortReason)).
			Msg("Candidate test yielded insufficient data, retrying once")
		return stateTesting
	}

	logger.Error().
		Str("candidate", result.Candidate.String()).
		Msg("Repeated insufficient data, terminating search")
	c.append(result)
	c.state.Termination = TerminationSafety
	return stateFinalize
}

// handleSafetyAbort rolls the device back to the best known configuration
// immediately, then retries once at a reduced voltage if the search can
// still move
func (c *Controller) handleSafetyAbort(ctx context.Context, result aggregate.Result) searchState {
	c.append(result)
	c.safetyAborts++
	c.insufficientRetried = false

	if err := c.rollback(ctx); err != nil {
		c.fatal = err
		c.state.Termination = TerminationApplyFailed
		return stateFinalize
	}

	if c.safetyAborts >= maxSafetyAbortsPerFrequency {
		logger.Error().
			Int("frequency_mhz", c.state.Current.FrequencyMHz).
			Msg("Second consecutive safety abort at this frequency, terminating search")
		c.state.Termination = TerminationSafety
		return stateFinalize
	}

	reduced := aggregate.Candidate{
		VoltageMV:    c.state.Current.VoltageMV - c.cfg.VoltageIncrement,
		FrequencyMHz: c.state.Current.FrequencyMHz,
	}
	if reduced.VoltageMV < c.cfg.MinVoltage || c.tested[reduced] {
		c.state.Termination = TerminationSafety
		return stateFinalize
	}

	logger.Warn().
		Str("candidate", reduced.String()).
		Msg("Retrying at reduced voltage after safety abort")

	return c.applyNext(ctx, reduced)
}

func (c *Controller) advanceFrequency(ctx context.Context) searchState {
	next := aggregate.Candidate{
		VoltageMV:    c.state.Current.VoltageMV,
		FrequencyMHz: c.state.Current.FrequencyMHz + c.cfg.FrequencyIncrement,
	}
	if c.tested[next] {
		c.state.Termination = TerminationLimit
		return stateFinalize
	}

	c.safetyAborts = 0

	return c.applyNext(ctx, next)
}

func (c *Controller) raiseVoltage(ctx context.Context) searchState {
	next := aggregate.Candidate{
		VoltageMV:    c.state.Current.VoltageMV + c.cfg.VoltageIncrement,
		FrequencyMHz: c.state.Current.FrequencyMHz,
	}
	if c.tested[next] {
		c.state.Termination = TerminationSafety
		return stateFinalize
	}

	return c.applyNext(ctx, next)
}

// applyNext pushes a candidate to the device and transitions into TESTING.
// A rejected or unconfirmed apply is fatal: the device state can no longer
// be trusted, so the search ends rather than guessing.
func (c *Controller) applyNext(ctx context.Context, cand aggregate.Candidate) searchState {
	if err := c.apply(ctx, cand); err != nil {
		c.fatal = err
		c.state.Termination = TerminationApplyFailed
		return stateFinalize
	}

	c.state.Current = cand
	c.insufficientRetried = false

	return stateTesting
}

func (c *Controller) apply(ctx context.Context, cand aggregate.Candidate) error {
	errFactory := errors.New()

	if err := c.device.ApplySettings(ctx, cand.VoltageMV, cand.FrequencyMHz); err != nil {
		return errFactory.Wrap(ErrApplyCandidate, err)
	}
	if err := c.device.Restart(ctx); err != nil {
		return errFactory.Wrap(ErrApplyCandidate, err)
	}

	return nil
}

// rollback forces the device back onto the best known safe configuration,
// or the seed when nothing stable has been recorded yet
func (c *Controller) rollback(ctx context.Context) error {
	target := c.state.Seed
	if c.state.Best != nil {
		target = c.state.Best.Candidate
	}

	logger.Warn().
		Str("candidate", target.String()).
		Msg("Rolling back to last known good configuration")

	return c.apply(ctx, target)
}

func (c *Controller) append(result aggregate.Result) {
	c.state.History = append(c.state.History, result)

	if err := c.results.Append(result); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist result")
	}
}

// finalize applies the final configuration under its own timeout so an
// operator interrupt cannot cancel the rollback, then writes the rankings
func (c *Controller) finalize() {
	final := c.state.Seed
	if c.state.Best != nil {
		final = c.state.Best.Candidate
	}
	c.state.FinalCandidate = final

	logger.Info().
		Str("termination", string(c.state.Termination)).
		Str("candidate", final.String()).
		Int("tested", len(c.state.History)).
		Msg("Search finished, applying final configuration")

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := c.apply(ctx, final); err != nil {
		// Best effort only: report and move on, the process still exits
		logger.ErrorWithCode(errors.New().Wrap(ErrRollbackFailed, err)).
			Msg("Failed to apply final configuration")
	} else {
		c.state.FinalApplied = true
	}

	if err := c.results.WriteFinal(c.state.History); err != nil {
		logger.Warn().Err(err).Msg("Failed to write final results")
	}
}
