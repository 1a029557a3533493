package sampler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetropolisEngine is the exact sampling mode: adaptive random-walk
// Metropolis, one goroutine per chain, shared-nothing. Warm-up adapts a
// global proposal scale toward the configured acceptance target; draws are
// collected after warm-up only.
type MetropolisEngine struct {
	// Log receives phase messages; nil disables logging.
	Log *zap.Logger
}

func (e *MetropolisEngine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Sample runs all chains to completion or context expiry and assembles
// diagnostics from the completed ones. A context deadline acts as the
// wall-clock timeout: chains that have not finished are abandoned and the
// completed ones form the (reduced) ensemble.
func (e *MetropolisEngine) Sample(ctx context.Context, target Target, cfg Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	log := e.logger()
	dim := target.Dim()
	log.Info("sampling started",
		zap.Int("chains", cfg.Chains),
		zap.Int("warmup", cfg.Warmup),
		zap.Int("samples", cfg.Samples),
		zap.Int("parameters", dim))

	start := time.Now()
	chains := make([]*Chain, cfg.Chains)
	warmupTimes := make([]time.Duration, cfg.Chains)
	sampleTimes := make([]time.Duration, cfg.Chains)

	var wg sync.WaitGroup
	for c := 0; c < cfg.Chains; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(c)*7919))
			ch, wt, st := runChain(ctx, target, cfg, rng)
			chains[c] = ch
			warmupTimes[c] = wt
			sampleTimes[c] = st
		}(c)
	}
	wg.Wait()

	res := &Result{}
	for c, ch := range chains {
		if ch == nil {
			log.Warn("chain abandoned before completion", zap.Int("chain", c))
			continue
		}
		res.Chains = append(res.Chains, *ch)
		res.Diag.Divergences += ch.Divergences
		if warmupTimes[c] > res.Diag.WarmupTime {
			res.Diag.WarmupTime = warmupTimes[c]
		}
		if sampleTimes[c] > res.Diag.SampleTime {
			res.Diag.SampleTime = sampleTimes[c]
		}
	}
	res.Diag.CompletedChains = len(res.Chains)
	res.Diag.RequestedChains = cfg.Chains
	if res.Diag.CompletedChains == 0 || res.TotalDraws() == 0 {
		return nil, ErrNoDraws
	}
	res.Diag.Rhat = splitRhat(res.Chains, dim)
	res.Diag.ESS = effectiveSampleSize(res.Chains, dim)

	log.Info("sampling finished",
		zap.Int("completed_chains", res.Diag.CompletedChains),
		zap.Int("divergences", res.Diag.Divergences),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// runChain runs warm-up plus sampling for one chain. Returns nil when the
// context expires before the chain finishes.
func runChain(ctx context.Context, target Target, cfg Config, rng *rand.Rand) (*Chain, time.Duration, time.Duration) {
	dim := target.Dim()
	cur := jitter(target.Init(), rng, 0.1)
	curLP := target.LogProb(cur)
	// Walk the jitter back in if it landed outside the support.
	for tries := 0; (math.IsInf(curLP, -1) || math.IsNaN(curLP)) && tries < 50; tries++ {
		cur = jitter(target.Init(), rng, 0.1/float64(tries+1))
		curLP = target.LogProb(cur)
	}

	logStep := math.Log(0.1 / math.Sqrt(float64(dim)))
	prop := make([]float64, dim)
	ch := &Chain{}

	warmupStart := time.Now()
	var warmupTime time.Duration

	total := cfg.Warmup + cfg.Samples
	for i := 0; i < total; i++ {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, 0, 0
		}
		if i == cfg.Warmup {
			warmupTime = time.Since(warmupStart)
		}
		step := math.Exp(logStep)
		for d := 0; d < dim; d++ {
			prop[d] = cur[d] + step*rng.NormFloat64()
		}
		lp := target.LogProb(prop)

		accept := false
		switch {
		case math.IsNaN(lp):
			if i >= cfg.Warmup {
				ch.Divergences++
			}
		case lp-curLP >= 0 || math.Log(rng.Float64()) < lp-curLP:
			accept = true
		}
		if accept {
			copy(cur, prop)
			curLP = lp
		}

		if i < cfg.Warmup {
			// Robbins-Monro step-size adaptation toward the target rate.
			acc := 0.0
			if accept {
				acc = 1
			}
			logStep += (acc - cfg.AdaptTarget) / math.Sqrt(float64(i+1))
		} else {
			if accept {
				ch.Accepted++
			}
			draw := make([]float64, dim)
			copy(draw, cur)
			ch.Draws = append(ch.Draws, draw)
			ch.LogProbs = append(ch.LogProbs, curLP)
		}
	}
	if warmupTime == 0 {
		warmupTime = time.Since(warmupStart)
	}
	return ch, warmupTime, time.Since(warmupStart) - warmupTime
}
