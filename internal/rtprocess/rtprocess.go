// Package rtprocess maps sampled innovation vectors to time-varying
// reproduction number trajectories. The four variants (Gaussian process,
// random walk, breakpoints, fixed) share one evaluation interface so the
// renewal equation never knows which produced its trajectory. Everything
// lives on the log scale; trajectories are strictly positive.
package rtprocess

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind discriminates the Rt process variants.
type Kind int

const (
	Fixed Kind = iota
	RandomWalk
	Breakpoints
	GP
)

func (k Kind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case RandomWalk:
		return "random_walk"
	case Breakpoints:
		return "breakpoints"
	case GP:
		return "gp"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ForecastPolicy controls Rt beyond the fitted range for the GP variant.
type ForecastPolicy int

const (
	// Project extrapolates the process into the forecast horizon.
	Project ForecastPolicy = iota
	// Latest freezes Rt at its last fitted value, typically combined with
	// the susceptible-depletion correction.
	Latest
)

// Config selects and parameterizes one variant. At most one variant's
// fields are read, picked by Kind.
type Config struct {
	Kind Kind

	// Normal prior on log Rt at the start of the horizon, shared by all
	// variants.
	InitMeanLog float64
	InitSDLog   float64

	// RandomWalk: Rt changes every StepDays days; StepSD is the
	// half-normal prior scale on the step standard deviation.
	StepDays int
	StepSD   float64

	// Breakpoints: day indices (into the fitted range) where a new
	// segment starts; BreakSD is the normal prior sd on each segment's
	// log offset.
	ChangeIndices []int
	BreakSD       float64

	// GP: low-rank basis approximation controls. BasisFraction scales
	// the basis count with the fitted length; LengthScale* give the
	// lognormal prior on the length-scale (in days, on the log scale);
	// MagnitudeSD is the half-normal prior scale on the marginal sd.
	BasisFraction       float64
	BoundaryFactor      float64
	LengthScaleMuLog    float64
	LengthScaleSigmaLog float64
	MagnitudeSD         float64
	Forecast            ForecastPolicy
}

// WithDefaults fills unset numeric fields with working defaults.
func (c Config) WithDefaults() Config {
	if c.InitSDLog <= 0 {
		c.InitSDLog = 0.2
	}
	if c.StepDays <= 0 {
		c.StepDays = 7
	}
	if c.StepSD <= 0 {
		c.StepSD = 0.1
	}
	if c.BreakSD <= 0 {
		c.BreakSD = 0.2
	}
	if c.BasisFraction <= 0 {
		c.BasisFraction = 0.2
	}
	if c.BoundaryFactor <= 0 {
		c.BoundaryFactor = 1.5
	}
	if c.LengthScaleMuLog == 0 && c.LengthScaleSigmaLog == 0 {
		c.LengthScaleMuLog = math.Log(21)
		c.LengthScaleSigmaLog = 0.5
	}
	if c.LengthScaleSigmaLog <= 0 {
		c.LengthScaleSigmaLog = 0.5
	}
	if c.MagnitudeSD <= 0 {
		c.MagnitudeSD = 0.5
	}
	return c
}

// Process evaluates one configured variant over a fixed horizon.
type Process struct {
	cfg     Config
	fit     int // fitted days
	horizon int // fitted + forecast days

	steps int // random walk step count over the fitted range
	m     int // GP basis count
	basis *mat.Dense
}

// New builds a Process for fitDays of data plus forecastDays ahead.
func New(cfg Config, fitDays, forecastDays int) (*Process, error) {
	if fitDays <= 0 {
		return nil, fmt.Errorf("rt process needs at least one fitted day, got %d", fitDays)
	}
	if forecastDays < 0 {
		return nil, fmt.Errorf("negative forecast horizon %d", forecastDays)
	}
	cfg = cfg.WithDefaults()
	p := &Process{cfg: cfg, fit: fitDays, horizon: fitDays + forecastDays}

	switch cfg.Kind {
	case Fixed:
	case RandomWalk:
		p.steps = (fitDays + cfg.StepDays - 1) / cfg.StepDays
	case Breakpoints:
		idx := append([]int(nil), cfg.ChangeIndices...)
		sort.Ints(idx)
		for i, v := range idx {
			if v <= 0 || v >= fitDays {
				return nil, fmt.Errorf("breakpoint index %d outside fitted range (0, %d)", v, fitDays)
			}
			if i > 0 && idx[i-1] == v {
				return nil, fmt.Errorf("duplicate breakpoint index %d", v)
			}
		}
		p.cfg.ChangeIndices = idx
	case GP:
		p.m = int(math.Ceil(cfg.BasisFraction * float64(fitDays)))
		if p.m < 4 {
			p.m = 4
		}
		p.basis = gpBasis(p.horizon, p.m, cfg.BoundaryFactor)
	default:
		return nil, fmt.Errorf("unknown rt process kind %v", cfg.Kind)
	}
	return p, nil
}

// Kind returns the configured variant.
func (p *Process) Kind() Kind { return p.cfg.Kind }

// BasisCount returns the GP basis function count (0 for other variants).
func (p *Process) BasisCount() int { return p.m }

// NumParams is the length of the innovation vector the sampler supplies.
func (p *Process) NumParams() int {
	switch p.cfg.Kind {
	case Fixed:
		return 1
	case RandomWalk:
		// log R0, log step sd, one innovation per step after the first.
		return 2 + p.steps - 1
	case Breakpoints:
		return 1 + len(p.cfg.ChangeIndices)
	case GP:
		// log R0, log length-scale, log magnitude, basis coefficients.
		return 3 + p.m
	}
	return 0
}

// LogPrior scores the innovation vector under the variant's priors, up to
// an additive constant. Out-of-support values score -Inf.
func (p *Process) LogPrior(params []float64) float64 {
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(-1)
		}
	}
	init := distuv.Normal{Mu: p.cfg.InitMeanLog, Sigma: p.cfg.InitSDLog}
	lp := init.LogProb(params[0])
	std := distuv.Normal{Mu: 0, Sigma: 1}

	switch p.cfg.Kind {
	case Fixed:
	case RandomWalk:
		lp += halfNormalLog(params[1], p.cfg.StepSD)
		for _, z := range params[2:] {
			lp += std.LogProb(z)
		}
	case Breakpoints:
		off := distuv.Normal{Mu: 0, Sigma: p.cfg.BreakSD}
		for _, o := range params[1:] {
			lp += off.LogProb(o)
		}
	case GP:
		lp += distuv.Normal{Mu: p.cfg.LengthScaleMuLog, Sigma: p.cfg.LengthScaleSigmaLog}.LogProb(params[1])
		lp += halfNormalLog(params[2], p.cfg.MagnitudeSD)
		for _, b := range params[3:] {
			lp += std.LogProb(b)
		}
	}
	return lp
}

// halfNormalLog scores a log-parameterized positive scale under a
// half-normal prior, including the exp Jacobian. u = log(sigma).
func halfNormalLog(u, scale float64) float64 {
	sigma := math.Exp(u)
	return -sigma*sigma/(2*scale*scale) + u
}

// Trajectory maps the innovation vector to Rt over the whole horizon.
// Values are strictly positive by construction.
func (p *Process) Trajectory(params []float64) []float64 {
	logR := make([]float64, p.horizon)

	switch p.cfg.Kind {
	case Fixed:
		for t := range logR {
			logR[t] = params[0]
		}
	case RandomWalk:
		sd := math.Exp(params[1])
		cur := params[0]
		step := 0
		for t := 0; t < p.fit; t++ {
			if t > 0 && t%p.cfg.StepDays == 0 && step < p.steps-1 {
				cur += sd * params[2+step]
				step++
			}
			logR[t] = cur
		}
		for t := p.fit; t < p.horizon; t++ {
			logR[t] = cur
		}
	case Breakpoints:
		cur := params[0]
		next := 0
		for t := 0; t < p.horizon; t++ {
			if next < len(p.cfg.ChangeIndices) && t == p.cfg.ChangeIndices[next] {
				cur += params[1+next]
				next++
			}
			logR[t] = cur
		}
	case GP:
		ell := math.Exp(params[1])
		sigma := math.Exp(params[2])
		L := p.cfg.BoundaryFactor
		for t := 0; t < p.horizon; t++ {
			v := params[0]
			if p.cfg.Forecast == Latest && t >= p.fit {
				logR[t] = logR[p.fit-1]
				continue
			}
			for j := 0; j < p.m; j++ {
				v += sigma * spectralSD(j+1, ell, L, p.fit) * p.basis.At(t, j)
			}
			logR[t] = v
		}
	}

	rt := make([]float64, p.horizon)
	for t, v := range logR {
		rt[t] = math.Exp(v)
	}
	return rt
}

// gpBasis builds the Hilbert-space sine basis over horizon days. Time is
// rescaled to [-1, 1] over the horizon and the domain extended to
// [-L, L] with L = boundary so the approximation stays accurate near the
// edges.
func gpBasis(horizon, m int, boundary float64) *mat.Dense {
	phi := mat.NewDense(horizon, m, nil)
	L := boundary
	for t := 0; t < horizon; t++ {
		x := -1 + 2*float64(t)/math.Max(1, float64(horizon-1))
		for j := 1; j <= m; j++ {
			phi.Set(t, j-1, math.Sqrt(1/L)*math.Sin(math.Pi*float64(j)*(x+L)/(2*L)))
		}
	}
	return phi
}

// spectralSD is the square root of the squared-exponential spectral
// density at the j-th basis frequency. The length-scale is given in days
// and rescaled to the unit domain used by the basis.
func spectralSD(j int, ellDays, L float64, fitDays int) float64 {
	ell := 2 * ellDays / math.Max(1, float64(fitDays-1))
	w := math.Pi * float64(j) / (2 * L)
	s := math.Sqrt(2*math.Pi) * ell * math.Exp(-ell*ell*w*w/2)
	return math.Sqrt(s)
}
