// Package estimate is the estimation driver: it assembles the joint model
// from the delay, Rt-process, infection and observation components,
// submits it to a posterior sampling engine, validates convergence, and
// summarizes the draws into per-date quantile bands for Rt, infections,
// expected reports, growth rate and doubling time.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rtestimate/internal/delay"
	"rtestimate/internal/model"
	"rtestimate/internal/observe"
	"rtestimate/internal/renewal"
	"rtestimate/internal/rtprocess"
	"rtestimate/internal/sampler"
	"rtestimate/internal/series"
)

// BackcalcConfig enables the non-parametric infection mode. It excludes
// any Rt configuration and forces the forecast horizon to zero.
type BackcalcConfig struct {
	// SmoothSD is the half-normal prior scale on the latent curve's
	// random-walk step sd.
	SmoothSD float64
}

// Options configure one estimation call.
type Options struct {
	GenerationTime delay.Spec
	Delays         delay.Spec

	// Rt selects the reproduction-number process; nil only together with
	// Backcalc.
	Rt *rtprocess.Config
	// Backcalc switches to the non-parametric latent-curve mode.
	Backcalc *BackcalcConfig

	Observation observe.Config
	// Infections carries renewal-mode settings (population for the
	// susceptible-depletion correction, process noise).
	Infections renewal.Config

	// Horizon is the forecast length in days, non-negative.
	Horizon int

	// CredibleLevels for the summary bands; default 0.2, 0.5, 0.9.
	CredibleLevels []float64
	// KeepDraws retains the raw ensemble on the result.
	KeepDraws bool

	Sampler sampler.Config
	// Engine overrides the sampling engine; default MetropolisEngine.
	Engine sampler.Engine

	Log *zap.Logger
}

func (o *Options) engine() sampler.Engine {
	if o.Engine != nil {
		return o.Engine
	}
	return &sampler.MetropolisEngine{Log: o.Log}
}

func (o *Options) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// Diagnostics carry convergence and runtime metadata. Breached thresholds
// surface as warnings, never as failures.
type Diagnostics struct {
	Warnings        []string
	MaxRhat         float64
	MinESS          float64
	Divergences     int
	CompletedChains int
	RequestedChains int
	// ReducedDraws marks a partial ensemble from a wall-clock timeout.
	ReducedDraws bool
	Approximate  bool
	WarmupTime   time.Duration
	SampleTime   time.Duration
}

// Result is one region's summarized estimation output. It owns no shared
// mutable state: everything here belongs to the caller after return.
type Result struct {
	ID        uuid.UUID
	StartDate time.Time
	FitDays   int
	Horizon   int

	// Summaries per tracked quantity, one row per horizon date.
	Rt           []SummaryRow
	Infections   []SummaryRow
	Reports      []SummaryRow
	GrowthRate   []SummaryRow
	DoublingTime []SummaryRow

	// Draws is the raw ensemble when Options.KeepDraws was set.
	Draws *sampler.Result

	Diagnostics Diagnostics
}

// Estimate fits the joint model to one region's case series.
//
// Failure modes follow the taxonomy: ConfigurationError and DataError
// before sampling, SamplingFailure when the engine yields no usable
// draws. Convergence problems and timeout-reduced ensembles come back as
// diagnostics on a successful result.
func Estimate(ctx context.Context, cases *series.Cases, opts Options) (*Result, error) {
	if err := validate(cases, &opts); err != nil {
		return nil, err
	}
	log := opts.logger()
	fit := cases.Len()
	horizon := fit + opts.Horizon

	j, err := assemble(cases, &opts, fit)
	if err != nil {
		return nil, err
	}
	log.Info("model assembled",
		zap.Int("fit_days", fit),
		zap.Int("forecast_days", opts.Horizon),
		zap.Int("parameters", j.Dim()))

	draws, err := opts.engine().Sample(ctx, j, opts.Sampler)
	if err != nil {
		if errors.Is(err, sampler.ErrNoDraws) {
			return nil, &SamplingFailure{Err: err}
		}
		return nil, &SamplingFailure{Err: fmt.Errorf("engine: %w", err)}
	}

	res, err := summarize(j, draws, cases, &opts, horizon)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.New()
	res.StartDate = cases.Dates[0]
	res.FitDays = fit
	res.Horizon = opts.Horizon
	if opts.KeepDraws {
		res.Draws = draws
	}
	for _, w := range res.Diagnostics.Warnings {
		log.Warn("diagnostic", zap.String("warning", w))
	}
	return res, nil
}

func validate(cases *series.Cases, opts *Options) error {
	if cases == nil {
		return &DataError{Err: fmt.Errorf("nil case series")}
	}
	if err := cases.Validate(); err != nil {
		return &DataError{Err: err}
	}
	if opts.Horizon < 0 {
		return configErrf("negative forecast horizon %d", opts.Horizon)
	}
	if opts.Backcalc != nil {
		if opts.Rt != nil {
			return configErrf("rt process configuration supplied together with backcalculation mode")
		}
		if opts.Horizon > 0 {
			return configErrf("backcalculation cannot forecast: horizon %d must be 0", opts.Horizon)
		}
	} else if opts.Rt == nil {
		return configErrf("either an rt process or backcalculation mode is required")
	}
	if err := opts.GenerationTime.Validate(); err != nil {
		return configErrf("generation time: %v", err)
	}
	if opts.Backcalc == nil && opts.GenerationTime.CombinedMax() < 1 {
		return configErrf("generation time needs support beyond lag 0")
	}
	if err := opts.Delays.Validate(); err != nil {
		return configErrf("report delays: %v", err)
	}
	if err := opts.Observation.Validate(); err != nil {
		return configErrf("observation model: %v", err)
	}
	return nil
}

func assemble(cases *series.Cases, opts *Options, fit int) (*model.Joint, error) {
	horizon := fit + opts.Horizon
	obs, err := observe.New(opts.Observation, fit, horizon, cases.Dates[0].Weekday())
	if err != nil {
		return nil, configErrf("observation model: %v", err)
	}

	if opts.Backcalc != nil {
		back, err := renewal.NewBackcalc(fit, opts.Backcalc.SmoothSD)
		if err != nil {
			return nil, configErrf("backcalculation: %v", err)
		}
		j, err := model.New(opts.GenerationTime, opts.Delays, nil, nil, back, obs, cases.Counts)
		if err != nil {
			return nil, configErrf("%v", err)
		}
		return j, nil
	}

	rtCfg := *opts.Rt
	if rtCfg.Kind == rtprocess.Breakpoints && len(rtCfg.ChangeIndices) == 0 {
		// Fall back to per-date markers on the series.
		rtCfg.ChangeIndices = cases.BreakpointIndices()
		if len(rtCfg.ChangeIndices) == 0 {
			return nil, configErrf("breakpoint rt process needs change dates or series markers")
		}
	}
	rt, err := rtprocess.New(rtCfg, fit, opts.Horizon)
	if err != nil {
		return nil, configErrf("rt process: %v", err)
	}
	ren, err := renewal.New(opts.Infections, fit, opts.Horizon, opts.GenerationTime.CombinedMax())
	if err != nil {
		return nil, configErrf("infection process: %v", err)
	}
	j, err := model.New(opts.GenerationTime, opts.Delays, rt, ren, nil, obs, cases.Counts)
	if err != nil {
		return nil, configErrf("%v", err)
	}
	return j, nil
}
