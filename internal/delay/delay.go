// Package delay represents discrete-time reporting delay distributions:
// single stages (incubation period, report delay, truncation delay) and
// their composition by convolution. Stages are either fully specified
// discrete PMFs or parametric families whose parameters carry priors; the
// latter are regenerated once per posterior draw so parameter uncertainty
// propagates into every kernel built from them.
package delay

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Family selects the parametric form of an uncertain stage.
type Family int

const (
	LogNormal Family = iota
	Gamma
)

func (f Family) String() string {
	switch f {
	case LogNormal:
		return "lognormal"
	case Gamma:
		return "gamma"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Prior is a normal prior on one natural-scale parameter. SD == 0 pins the
// parameter at Mean, removing it from the sampled vector.
type Prior struct {
	Mean float64
	SD   float64
}

func (p Prior) free() bool { return p.SD > 0 }

// Stage is one delay stage. Exactly one of PMF or the parametric fields is
// in use: a non-nil PMF makes the stage fixed, otherwise Family/Param1/
// Param2 describe it. Max truncates the support to {0..Max} in both cases.
type Stage struct {
	PMF []float64

	Family Family
	// Param1/Param2 are meanlog/sdlog for LogNormal, shape/rate for Gamma.
	Param1 Prior
	Param2 Prior

	Max int
}

// Fixed reports whether the stage carries no parameter uncertainty.
func (s Stage) Fixed() bool {
	return s.PMF != nil || (!s.Param1.free() && !s.Param2.free())
}

func (s Stage) numParams() int {
	if s.PMF != nil {
		return 0
	}
	n := 0
	if s.Param1.free() {
		n++
	}
	if s.Param2.free() {
		n++
	}
	return n
}

// NewFixed builds a stage from an explicit PMF over {0..len(pmf)-1}.
func NewFixed(pmf []float64) Stage {
	return Stage{PMF: pmf, Max: len(pmf) - 1}
}

// NewLogNormal builds a lognormal stage with normal priors on meanlog and
// sdlog, truncated at max days.
func NewLogNormal(meanlog, sdlog Prior, max int) Stage {
	return Stage{Family: LogNormal, Param1: meanlog, Param2: sdlog, Max: max}
}

// NewGamma builds a gamma stage with normal priors on shape and rate,
// truncated at max days.
func NewGamma(shape, rate Prior, max int) Stage {
	return Stage{Family: Gamma, Param1: shape, Param2: rate, Max: max}
}

// Spec is an ordered list of delay stages composed by convolution. The
// zero value is the identity delay (all mass at lag 0).
type Spec struct {
	Stages []Stage
}

// Validate checks stage shapes before any sampling.
func (s Spec) Validate() error {
	for i, st := range s.Stages {
		if st.Max < 0 {
			return fmt.Errorf("delay stage %d: negative truncation max %d", i+1, st.Max)
		}
		if st.PMF != nil {
			if len(st.PMF) == 0 {
				return fmt.Errorf("delay stage %d: empty PMF", i+1)
			}
			sum := 0.0
			for _, p := range st.PMF {
				if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
					return fmt.Errorf("delay stage %d: bad PMF entry %v", i+1, p)
				}
				sum += p
			}
			if math.Abs(sum-1) > 1e-6 {
				return fmt.Errorf("delay stage %d: PMF sums to %v, want 1", i+1, sum)
			}
			continue
		}
		if st.Family != LogNormal && st.Family != Gamma {
			return fmt.Errorf("delay stage %d: unknown family %v", i+1, st.Family)
		}
		if st.Param1.SD < 0 || st.Param2.SD < 0 {
			return fmt.Errorf("delay stage %d: negative prior sd", i+1)
		}
	}
	return nil
}

// NumParams is the number of free delay parameters the sampler draws for
// this spec.
func (s Spec) NumParams() int {
	n := 0
	for _, st := range s.Stages {
		n += st.numParams()
	}
	return n
}

// Uncertain reports whether any stage carries free parameters.
func (s Spec) Uncertain() bool { return s.NumParams() > 0 }

// CombinedMax is the truncation bound of the composed delay.
func (s Spec) CombinedMax() int {
	max := 0
	for _, st := range s.Stages {
		max += st.Max
	}
	return max
}

// FixedPMF composes the stages into a single truncated PMF. Only legal
// when no stage is uncertain; uncertain specs go through PMF per draw.
func (s Spec) FixedPMF() ([]float64, error) {
	if s.Uncertain() {
		return nil, fmt.Errorf("delay spec has %d free parameters, use PMF per draw", s.NumParams())
	}
	return s.PMF(nil)
}

// PMF composes the stages into a single truncated PMF, consuming one value
// from params per free parameter in stage order. It is a pure function of
// params: the per-draw regeneration rule for uncertainty propagation.
// Returns an error when a parameter draw lies outside the family's support
// (the sampler treats that as a rejected proposal).
func (s Spec) PMF(params []float64) ([]float64, error) {
	kernel := []float64{1} // identity
	k := 0
	for i, st := range s.Stages {
		var pmf []float64
		if st.PMF != nil {
			pmf = truncate(st.PMF, st.Max)
		} else {
			p1, p2 := st.Param1.Mean, st.Param2.Mean
			if st.Param1.free() {
				p1 = params[k]
				k++
			}
			if st.Param2.free() {
				p2 = params[k]
				k++
			}
			var err error
			pmf, err = discretize(st.Family, p1, p2, st.Max)
			if err != nil {
				return nil, fmt.Errorf("delay stage %d: %w", i+1, err)
			}
		}
		kernel = Convolve(kernel, pmf)
	}
	kernel = truncate(kernel, s.CombinedMax())
	return kernel, nil
}

// LogPrior evaluates the normal priors on the free parameters, in the same
// order PMF consumes them. Draws outside a family's support score -Inf so
// the sampler rejects them rather than the kernel clamping them.
func (s Spec) LogPrior(params []float64) float64 {
	lp := 0.0
	k := 0
	for _, st := range s.Stages {
		if st.PMF != nil {
			continue
		}
		p1, p2 := st.Param1.Mean, st.Param2.Mean
		if st.Param1.free() {
			p1 = params[k]
			lp += distuv.Normal{Mu: st.Param1.Mean, Sigma: st.Param1.SD}.LogProb(p1)
			k++
		}
		if st.Param2.free() {
			p2 = params[k]
			lp += distuv.Normal{Mu: st.Param2.Mean, Sigma: st.Param2.SD}.LogProb(p2)
			k++
		}
		if !supported(st.Family, p1, p2) {
			return math.Inf(-1)
		}
	}
	return lp
}

func supported(f Family, p1, p2 float64) bool {
	if math.IsNaN(p1) || math.IsInf(p1, 0) || math.IsNaN(p2) || math.IsInf(p2, 0) {
		return false
	}
	switch f {
	case LogNormal:
		return p2 > 0
	case Gamma:
		return p1 > 0 && p2 > 0
	}
	return false
}

// discretize bins the continuous family onto {0..max} by unit-interval CDF
// differences, then renormalizes. The renormalization conditions on the
// delay being at most max days.
func discretize(f Family, p1, p2 float64, max int) ([]float64, error) {
	if !supported(f, p1, p2) {
		return nil, fmt.Errorf("%v parameters (%v, %v) outside support", f, p1, p2)
	}
	cdf := func(x float64) float64 {
		switch f {
		case LogNormal:
			return distuv.LogNormal{Mu: p1, Sigma: p2}.CDF(x)
		default:
			return distuv.Gamma{Alpha: p1, Beta: p2}.CDF(x)
		}
	}
	pmf := make([]float64, max+1)
	prev := 0.0
	for k := 0; k <= max; k++ {
		cur := cdf(float64(k + 1))
		pmf[k] = cur - prev
		prev = cur
	}
	return normalize(pmf), nil
}

// Convolve computes the discrete convolution of two PMFs.
func Convolve(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, av := range a {
		if av == 0 {
			continue
		}
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}

// CDF returns the cumulative distribution of a PMF, same length.
func CDF(pmf []float64) []float64 {
	out := make([]float64, len(pmf))
	sum := 0.0
	for i, p := range pmf {
		sum += p
		out[i] = sum
	}
	return out
}

// truncate cuts a PMF at max and renormalizes the remaining mass to 1,
// conditioning on the delay not exceeding max.
func truncate(pmf []float64, max int) []float64 {
	if len(pmf) > max+1 {
		pmf = pmf[:max+1]
	}
	return normalize(pmf)
}

func normalize(pmf []float64) []float64 {
	sum := 0.0
	for _, p := range pmf {
		sum += p
	}
	out := make([]float64, len(pmf))
	if sum <= 0 {
		// Degenerate: all mass beyond the truncation point. Put it at max.
		out[len(out)-1] = 1
		return out
	}
	for i, p := range pmf {
		out[i] = p / sum
	}
	return out
}
