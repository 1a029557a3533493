package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// LaplaceEngine is the fast approximate mode: Nelder-Mead search for the
// posterior mode followed by draws from a diagonal normal approximation
// built from numeric curvature at the mode. Diagnostics are flagged
// approximate; there is nothing to converge in the MCMC sense.
type LaplaceEngine struct {
	Log *zap.Logger
}

func (e *LaplaceEngine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Sample finds the MAP and returns a single pseudo-chain of approximate
// posterior draws.
func (e *LaplaceEngine) Sample(ctx context.Context, target Target, cfg Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	log := e.logger()
	dim := target.Dim()
	start := time.Now()

	neg := func(x []float64) float64 {
		if ctx.Err() != nil {
			return 1e12
		}
		lp := target.LogProb(x)
		if math.IsNaN(lp) || math.IsInf(lp, -1) {
			return 1e12
		}
		return -lp
	}

	problem := optimize.Problem{Func: neg}
	settings := &optimize.Settings{MajorIterations: 200 * dim}
	res, err := optimize.Minimize(problem, target.Init(), settings, &optimize.NelderMead{})
	if err != nil && res == nil {
		return nil, fmt.Errorf("mode search failed: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ErrNoDraws
	}
	mode := res.X
	modeNeg := res.F
	log.Info("mode found",
		zap.Float64("log_posterior", -modeNeg),
		zap.Duration("elapsed", time.Since(start)))
	warmupTime := time.Since(start)

	// Diagonal curvature by central second differences.
	sd := make([]float64, dim)
	for d := 0; d < dim; d++ {
		h := 1e-4 * (1 + math.Abs(mode[d]))
		xp := append([]float64(nil), mode...)
		xm := append([]float64(nil), mode...)
		xp[d] += h
		xm[d] -= h
		curv := (neg(xp) - 2*modeNeg + neg(xm)) / (h * h)
		if curv < 1e-8 || math.IsNaN(curv) {
			curv = 1e-8
		}
		sd[d] = 1 / math.Sqrt(curv)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	n := cfg.Chains * cfg.Samples
	ch := Chain{}
	for i := 0; i < n; i++ {
		draw := make([]float64, dim)
		for d := 0; d < dim; d++ {
			draw[d] = mode[d] + sd[d]*rng.NormFloat64()
		}
		ch.Draws = append(ch.Draws, draw)
		ch.LogProbs = append(ch.LogProbs, target.LogProb(draw))
	}

	out := &Result{Chains: []Chain{ch}}
	out.Diag = Diagnostics{
		Rhat:            ones(dim),
		ESS:             constSlice(dim, float64(n)),
		CompletedChains: 1,
		RequestedChains: 1,
		Approximate:     true,
		WarmupTime:      warmupTime,
		SampleTime:      time.Since(start) - warmupTime,
	}
	return out, nil
}

func ones(n int) []float64 { return constSlice(n, 1) }

func constSlice(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
