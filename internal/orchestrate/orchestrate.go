// Package orchestrate fans the estimation driver out over independent
// regions. Regions share no mutable state; each outcome (success, partial
// result, or hard failure) is captured on its own and one region's
// failure never aborts its siblings.
package orchestrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rtestimate/internal/estimate"
	"rtestimate/internal/series"
)

// Region is one independent estimation unit.
type Region struct {
	Name    string
	Cases   *series.Cases
	Options estimate.Options
}

// Outcome is one region's result or captured failure.
type Outcome struct {
	Region string
	Result *estimate.Result
	Err    error
}

// Options configure the fan-out.
type Options struct {
	// Parallelism bounds concurrent regions; 0 means all at once.
	Parallelism int
	Log         *zap.Logger
}

// Run estimates all regions and returns outcomes in input order. The
// returned slice always has one entry per region; the only error cases
// live inside the outcomes.
func Run(ctx context.Context, regions []Region, opts Options) []Outcome {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	out := make([]Outcome, len(regions))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			out[i] = runOne(ctx, r, log)
			return nil
		})
	}
	g.Wait()
	return out
}

func runOne(ctx context.Context, r Region, log *zap.Logger) (o Outcome) {
	o.Region = r.Name
	defer func() {
		if p := recover(); p != nil {
			o.Err = fmt.Errorf("region %s: panic: %v", r.Name, p)
		}
		if o.Err != nil {
			log.Warn("region failed", zap.String("region", r.Name), zap.Error(o.Err))
		} else {
			log.Info("region estimated", zap.String("region", r.Name),
				zap.Strings("warnings", o.Result.Diagnostics.Warnings))
		}
	}()
	res, err := estimate.Estimate(ctx, r.Cases, r.Options)
	if err != nil {
		o.Err = fmt.Errorf("region %s: %w", r.Name, err)
		return o
	}
	o.Result = res
	return o
}
