// Package renewal turns an Rt trajectory and a generation-time
// distribution into latent daily infections via the renewal equation, and
// offers a non-parametric backcalculation alternative that models the
// latent infection curve directly.
package renewal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Config parameterizes the renewal-mode infection process.
type Config struct {
	// Population enables the crude susceptible-depletion correction when
	// positive. Zero leaves Rt untouched.
	Population float64
	// ProcessNoise adds per-day multiplicative lognormal innovations to
	// the renewal expectation. Off by default: the latent curve is then
	// deterministic given Rt, seeds and generation time.
	ProcessNoise bool
	// NoiseSD is the half-normal prior scale on the innovation sd.
	NoiseSD float64
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.NoiseSD <= 0 {
		c.NoiseSD = 0.2
	}
	return c
}

// Process generates latent infections over a fitting plus forecast
// horizon. The seeding window before the first fitted day has length equal
// to the generation time's truncation max so the recursion always has a
// full history to convolve.
type Process struct {
	cfg     Config
	fit     int
	horizon int
	seedLen int
}

// New builds a renewal process. seedLen is the generation-time combined
// max; it must be at least 1 because same-day transmission carries no
// weight in the discrete recursion.
func New(cfg Config, fitDays, forecastDays, seedLen int) (*Process, error) {
	if fitDays <= 0 {
		return nil, fmt.Errorf("renewal needs at least one fitted day, got %d", fitDays)
	}
	if forecastDays < 0 {
		return nil, fmt.Errorf("negative forecast horizon %d", forecastDays)
	}
	if seedLen < 1 {
		return nil, fmt.Errorf("seeding window must cover the generation time, got %d", seedLen)
	}
	return &Process{cfg: cfg.WithDefaults(), fit: fitDays, horizon: fitDays + forecastDays, seedLen: seedLen}, nil
}

// NumParams is the free-parameter count: log seed level, seed growth rate,
// and, with process noise on, a log noise sd plus one innovation per day.
func (p *Process) NumParams() int {
	n := 2
	if p.cfg.ProcessNoise {
		n += 1 + p.horizon
	}
	return n
}

// LogPrior scores the seed and noise parameters. The seed level prior is
// weak; callers center it via the sampler's initialization instead.
func (p *Process) LogPrior(params []float64) float64 {
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(-1)
		}
	}
	lp := distuv.Normal{Mu: 0, Sigma: 10}.LogProb(params[0])
	lp += distuv.Normal{Mu: 0, Sigma: 0.2}.LogProb(params[1])
	if p.cfg.ProcessNoise {
		sd := math.Exp(params[2])
		lp += -sd*sd/(2*p.cfg.NoiseSD*p.cfg.NoiseSD) + params[2]
		std := distuv.Normal{Mu: 0, Sigma: 1}
		for _, z := range params[3:] {
			lp += std.LogProb(z)
		}
	}
	return lp
}

// Infections runs the renewal recursion. rt must cover the full horizon
// and gen is the generation-time PMF over {0..max}; its lag-0 mass is
// folded away by renormalizing over lags >= 1. Returns the seeding prefix
// and the horizon series separately; both are strictly positive. The
// prefix feeds the observation model's delay convolution so the first
// days keep their delayed reporting mass.
//
// With cfg.Population set, forecast-step Rt is scaled by the remaining
// susceptible fraction max(0, 1-C/N) where C accumulates all infections so
// far, seeds included. This is a crude deterministic correction applied to
// future steps only, never retroactively to fitted steps; it is not a
// compartmental model.
func (p *Process) Infections(rt, gen []float64, params []float64) (seed, inf []float64, err error) {
	if len(rt) < p.horizon {
		return nil, nil, fmt.Errorf("rt trajectory length %d, need %d", len(rt), p.horizon)
	}
	w, err := lagWeights(gen)
	if err != nil {
		return nil, nil, err
	}

	buf := make([]float64, p.seedLen+p.horizon)
	seedLevel := math.Exp(params[0])
	growth := params[1]
	cum := 0.0
	for i := 0; i < p.seedLen; i++ {
		// Seeds grow exponentially toward the first fitted day.
		buf[i] = seedLevel * math.Exp(growth*float64(i-p.seedLen+1))
		cum += buf[i]
	}

	var noiseSD float64
	if p.cfg.ProcessNoise {
		noiseSD = math.Exp(params[2])
	}

	for t := 0; t < p.horizon; t++ {
		idx := p.seedLen + t
		force := 0.0
		for s := 1; s < len(w) && s <= idx; s++ {
			force += buf[idx-s] * w[s]
		}
		r := rt[t]
		if p.cfg.Population > 0 && t >= p.fit {
			frac := 1 - cum/p.cfg.Population
			if frac < 0 {
				frac = 0
			}
			r *= frac
		}
		v := r * force
		if p.cfg.ProcessNoise {
			z := params[3+t]
			// Mean-one lognormal noise.
			v *= math.Exp(noiseSD*z - noiseSD*noiseSD/2)
		}
		buf[idx] = v
		cum += v
	}
	return buf[:p.seedLen], buf[p.seedLen:], nil
}

// lagWeights renormalizes a generation-time PMF over lags >= 1.
func lagWeights(gen []float64) ([]float64, error) {
	if len(gen) < 2 {
		return nil, fmt.Errorf("generation time PMF needs support beyond lag 0")
	}
	sum := 0.0
	for _, v := range gen[1:] {
		sum += v
	}
	if sum <= 0 {
		return nil, fmt.Errorf("generation time PMF has no mass beyond lag 0")
	}
	w := make([]float64, len(gen))
	for s := 1; s < len(gen); s++ {
		w[s] = gen[s] / sum
	}
	return w, nil
}

// Backcalc models log infections directly as a Gaussian random walk, with
// no Rt semantics. It covers the fitted range only: there is no mechanism
// to project the latent curve, so the driver rejects nonzero forecast
// horizons in this mode.
type Backcalc struct {
	fit int
	// SmoothSD is the half-normal prior scale on the walk's step sd.
	SmoothSD float64
}

// NewBackcalc builds a backcalculation process over fitDays.
func NewBackcalc(fitDays int, smoothSD float64) (*Backcalc, error) {
	if fitDays <= 0 {
		return nil, fmt.Errorf("backcalculation needs at least one fitted day, got %d", fitDays)
	}
	if smoothSD <= 0 {
		smoothSD = 0.2
	}
	return &Backcalc{fit: fitDays, SmoothSD: smoothSD}, nil
}

// NumParams: initial log level, log step sd, one innovation per later day.
func (b *Backcalc) NumParams() int { return 1 + b.fit }

// LogPrior scores the walk parameters; non-finite values score -Inf.
func (b *Backcalc) LogPrior(params []float64) float64 {
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(-1)
		}
	}
	lp := distuv.Normal{Mu: 0, Sigma: 10}.LogProb(params[0])
	sd := math.Exp(params[1])
	lp += -sd*sd/(2*b.SmoothSD*b.SmoothSD) + params[1]
	std := distuv.Normal{Mu: 0, Sigma: 1}
	for _, z := range params[2:] {
		lp += std.LogProb(z)
	}
	return lp
}

// Infections evaluates the smoothed latent curve over the fitted range.
func (b *Backcalc) Infections(params []float64) []float64 {
	out := make([]float64, b.fit)
	sd := math.Exp(params[1])
	cur := params[0]
	out[0] = math.Exp(cur)
	for t := 1; t < b.fit; t++ {
		cur += sd * params[1+t]
		out[t] = math.Exp(cur)
	}
	return out
}
