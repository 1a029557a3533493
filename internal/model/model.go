// Package model assembles the joint posterior: it lays the Rt process,
// infection process, observation model and uncertain delay parameters out
// in one flat vector, scores the joint log-density for the sampling
// engine, and recomputes the derived quantities (Rt path, infections,
// expected reports) from any posterior draw.
package model

import (
	"fmt"
	"math"

	"rtestimate/internal/delay"
	"rtestimate/internal/observe"
	"rtestimate/internal/renewal"
	"rtestimate/internal/rtprocess"
)

// Joint is a fully assembled model over one case series. Exactly one of
// Renewal (with Rt) or Backcalc drives the latent infections.
type Joint struct {
	Gen    delay.Spec
	Delays delay.Spec

	Rt       *rtprocess.Process
	Renewal  *renewal.Process
	Backcalc *renewal.Backcalc
	Obs      *observe.Model

	// Observed counts over the fitted range, NaN for missing days.
	Observed []float64

	// Parameter vector layout, filled by New: [rt][infections][obs]
	// [generation time][report delays].
	offInf, offObs, offGen, offDelay, dim int

	// Kernels precomputed when their spec carries no uncertainty.
	fixedGen   []float64
	fixedDelay []float64

	initSeed float64
}

// New wires the components into one target. observed holds the fitted
// counts (NaN = missing).
func New(gen, delays delay.Spec, rt *rtprocess.Process, ren *renewal.Process, back *renewal.Backcalc, obs *observe.Model, observed []float64) (*Joint, error) {
	j := &Joint{Gen: gen, Delays: delays, Rt: rt, Renewal: ren, Backcalc: back, Obs: obs, Observed: observed}
	if (ren == nil) == (back == nil) {
		return nil, fmt.Errorf("exactly one infection process required")
	}
	if ren != nil && rt == nil {
		return nil, fmt.Errorf("renewal mode needs an rt process")
	}
	if back != nil && rt != nil {
		return nil, fmt.Errorf("backcalculation excludes an rt process")
	}

	rtN := 0
	if rt != nil {
		rtN = rt.NumParams()
	}
	infN := 0
	if ren != nil {
		infN = ren.NumParams()
	} else {
		infN = back.NumParams()
	}
	j.offInf = rtN
	j.offObs = j.offInf + infN
	j.offGen = j.offObs + obs.NumParams()
	j.offDelay = j.offGen + gen.NumParams()
	j.dim = j.offDelay + delays.NumParams()

	if !gen.Uncertain() && ren != nil {
		pmf, err := gen.FixedPMF()
		if err != nil {
			return nil, err
		}
		j.fixedGen = pmf
	}
	if !delays.Uncertain() {
		pmf, err := delays.FixedPMF()
		if err != nil {
			return nil, err
		}
		j.fixedDelay = pmf
	}

	// Seed the latent level at the observed scale so chains start in a
	// sane region.
	sum, n := 0.0, 0
	for _, y := range observed {
		if !math.IsNaN(y) {
			sum += y
			n++
		}
	}
	mean := 1.0
	if n > 0 {
		mean = sum/float64(n) + 1
	}
	j.initSeed = math.Log(mean)
	return j, nil
}

// Dim implements sampler.Target.
func (j *Joint) Dim() int { return j.dim }

// Init implements sampler.Target: prior means for delay parameters, the
// observed scale for the latent level, zeros elsewhere.
func (j *Joint) Init() []float64 {
	x := make([]float64, j.dim)
	x[j.offInf] = j.initSeed
	fillPriorMeans(j.Gen, x[j.offGen:j.offDelay])
	fillPriorMeans(j.Delays, x[j.offDelay:])
	return x
}

func fillPriorMeans(s delay.Spec, dst []float64) {
	k := 0
	for _, st := range s.Stages {
		if st.PMF != nil {
			continue
		}
		if st.Param1.SD > 0 {
			dst[k] = st.Param1.Mean
			k++
		}
		if st.Param2.SD > 0 {
			dst[k] = st.Param2.Mean
			k++
		}
	}
}

// LogProb implements sampler.Target: priors plus observation likelihood.
// Out-of-support draws score -Inf; numerical failures in the derived
// quantities score NaN so the engine counts them as divergences.
func (j *Joint) LogProb(x []float64) float64 {
	lp := 0.0

	if j.Rt != nil {
		lp += j.Rt.LogPrior(x[:j.offInf])
	}
	if j.Renewal != nil {
		lp += j.Renewal.LogPrior(x[j.offInf:j.offObs])
	} else {
		lp += j.Backcalc.LogPrior(x[j.offInf:j.offObs])
	}
	lp += j.Obs.LogPrior(x[j.offObs:j.offGen])
	lp += j.Gen.LogPrior(x[j.offGen:j.offDelay])
	lp += j.Delays.LogPrior(x[j.offDelay:])
	if math.IsInf(lp, -1) || math.IsNaN(lp) {
		return math.Inf(-1)
	}

	d, err := j.derive(x)
	if err != nil {
		return math.NaN()
	}
	ll := j.Obs.LogLikelihood(d.Reports, j.Observed, x[j.offObs:j.offGen])
	if math.IsNaN(ll) {
		return math.NaN()
	}
	return lp + ll
}

// Derived holds the per-draw derived quantities over the full horizon.
// Rt is nil in backcalculation mode.
type Derived struct {
	Rt         []float64
	Infections []float64
	Reports    []float64
}

// Derive recomputes the derived quantities for one posterior draw.
func (j *Joint) Derive(x []float64) (*Derived, error) {
	return j.derive(x)
}

func (j *Joint) derive(x []float64) (*Derived, error) {
	var (
		prefix, inf []float64
		rt          []float64
		err         error
	)
	if j.Renewal != nil {
		rt = j.Rt.Trajectory(x[:j.offInf])
		gen := j.fixedGen
		if gen == nil {
			// Regenerated per draw: delay uncertainty propagates into
			// every kernel. Built at most once per draw, never cached
			// across draws.
			gen, err = j.Gen.PMF(x[j.offGen:j.offDelay])
			if err != nil {
				return nil, err
			}
		}
		prefix, inf, err = j.Renewal.Infections(rt, gen, x[j.offInf:j.offObs])
		if err != nil {
			return nil, err
		}
	} else {
		inf = j.Backcalc.Infections(x[j.offInf:j.offObs])
	}

	dk := j.fixedDelay
	if dk == nil {
		dk, err = j.Delays.PMF(x[j.offDelay:])
		if err != nil {
			return nil, err
		}
	}
	reports, err := j.Obs.ExpectedReports(prefix, inf, dk, x[j.offObs:j.offGen])
	if err != nil {
		return nil, err
	}
	return &Derived{Rt: rt, Infections: inf, Reports: reports}, nil
}
