// Package sampler is the posterior sampling engine behind a narrow
// interface: a joint log-density in, draw ensembles plus convergence
// diagnostics out. The joint-model construction never depends on which
// concrete engine backs it; two are provided, an exact adaptive
// random-walk Metropolis and a fast Laplace approximation.
package sampler

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Target is a joint log-density over a flat parameter vector. LogProb may
// return -Inf (rejected region) or NaN (numerical failure); engines treat
// both as rejections and count the NaNs as divergences.
type Target interface {
	Dim() int
	LogProb(x []float64) float64
	// Init returns a chain starting point. Engines jitter it per chain.
	Init() []float64
}

// Config is the sampler configuration shared by engines.
type Config struct {
	Chains      int
	Warmup      int
	Samples     int
	AdaptTarget float64 // acceptance-rate target during warmup
	Seed        int64
	// Timeout caps wall-clock sampling. On expiry the engine returns
	// whichever chains completed; chains share no state, so a partial
	// ensemble is safe to summarize.
	Timeout time.Duration
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Chains <= 0 {
		c.Chains = 4
	}
	if c.Warmup <= 0 {
		c.Warmup = 500
	}
	if c.Samples <= 0 {
		c.Samples = 500
	}
	if c.AdaptTarget <= 0 || c.AdaptTarget >= 1 {
		c.AdaptTarget = 0.234
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Chain is one chain's post-warm-up output.
type Chain struct {
	Draws       [][]float64
	LogProbs    []float64
	Accepted    int
	Divergences int
}

// Diagnostics summarize ensemble health. Approximate engines set
// Approximate and leave the MCMC statistics at their ideal values.
type Diagnostics struct {
	Rhat            []float64 // per parameter, split-chain
	ESS             []float64 // per parameter
	Divergences     int
	CompletedChains int
	RequestedChains int
	Approximate     bool
	WarmupTime      time.Duration
	SampleTime      time.Duration
}

// Result is a complete draw ensemble. Draws are immutable once returned:
// consumers aggregate, never mutate.
type Result struct {
	Chains []Chain
	Diag   Diagnostics
}

// TotalDraws counts draws across completed chains.
func (r *Result) TotalDraws() int {
	n := 0
	for _, c := range r.Chains {
		n += len(c.Draws)
	}
	return n
}

// ErrNoDraws is returned when no chain produced any usable draw (all
// chains failed or the timeout expired before any completed).
var ErrNoDraws = errors.New("sampling produced no usable draws")

// Engine runs posterior sampling as one opaque blocking call.
type Engine interface {
	Sample(ctx context.Context, target Target, cfg Config) (*Result, error)
}

// jitter perturbs an init point so chains start dispersed.
func jitter(x []float64, rng *rand.Rand, scale float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + scale*rng.NormFloat64()
	}
	return out
}
