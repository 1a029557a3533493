// Package observe maps latent infections to expected case reports and
// scores observed counts: delay convolution, day-of-week reporting
// effects, right-truncation of the most recent days, reporting-fraction
// scaling, and a negative-binomial likelihood with Poisson as the
// no-overdispersion limit.
package observe

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"rtestimate/internal/delay"
)

// Config selects the observation features.
type Config struct {
	// Overdispersion switches the likelihood from Poisson to negative
	// binomial with an estimated dispersion.
	Overdispersion bool
	// PhiMeanLog/PhiSDLog give the normal prior on log dispersion.
	PhiMeanLog float64
	PhiSDLog   float64

	// WeekEffects enables 7 multiplicative day-of-week reporting weights,
	// normalized to average 1 over a full week.
	WeekEffects bool
	// WeekSD is the normal prior sd on the unnormalized week logits.
	WeekSD float64

	// Truncation is the right-truncation delay; an empty spec disables
	// the adjustment. May itself carry parameter uncertainty.
	Truncation delay.Spec

	// Scale is a reporting-fraction multiplier on expected reports.
	// ScaleMean 0 means no scaling (factor 1); ScaleSD > 0 makes the log
	// scale a free parameter with a normal prior.
	ScaleMean float64
	ScaleSD   float64
}

// WithDefaults fills unset prior fields.
func (c Config) WithDefaults() Config {
	if c.PhiMeanLog == 0 && c.PhiSDLog == 0 {
		c.PhiMeanLog = math.Log(10)
	}
	if c.PhiSDLog <= 0 {
		c.PhiSDLog = 1
	}
	if c.WeekSD <= 0 {
		c.WeekSD = 0.2
	}
	return c
}

// Validate checks the truncation spec.
func (c Config) Validate() error {
	if err := c.Truncation.Validate(); err != nil {
		return fmt.Errorf("truncation delay: %w", err)
	}
	if c.ScaleMean < 0 || c.ScaleMean > 1 {
		return fmt.Errorf("reporting scale %v outside (0, 1]", c.ScaleMean)
	}
	if c.ScaleSD > 0 && c.ScaleMean == 0 {
		return fmt.Errorf("uncertain reporting scale needs a positive mean")
	}
	return nil
}

// Model evaluates the observation process over a horizon of which the
// first fit days carry observations.
type Model struct {
	cfg      Config
	fit      int
	horizon  int
	weekday0 int
}

// New builds an observation model. startWeekday is the weekday of the
// first horizon day, anchoring the day-of-week effects to the calendar.
func New(cfg Config, fitDays, horizonDays int, startWeekday time.Weekday) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fitDays <= 0 || horizonDays < fitDays {
		return nil, fmt.Errorf("bad observation window: fit %d, horizon %d", fitDays, horizonDays)
	}
	return &Model{cfg: cfg.WithDefaults(), fit: fitDays, horizon: horizonDays, weekday0: int(startWeekday)}, nil
}

// Parameter layout: [log phi][7 week logits][log scale][truncation params],
// each block present only when its feature is on.

// NumParams is the free-parameter count of the observation model.
func (m *Model) NumParams() int {
	n := 0
	if m.cfg.Overdispersion {
		n++
	}
	if m.cfg.WeekEffects {
		n += 7
	}
	if m.cfg.ScaleSD > 0 {
		n++
	}
	n += m.cfg.Truncation.NumParams()
	return n
}

// LogPrior scores the observation parameters; -Inf for non-finite draws.
func (m *Model) LogPrior(params []float64) float64 {
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(-1)
		}
	}
	lp := 0.0
	k := 0
	if m.cfg.Overdispersion {
		lp += distuv.Normal{Mu: m.cfg.PhiMeanLog, Sigma: m.cfg.PhiSDLog}.LogProb(params[k])
		k++
	}
	if m.cfg.WeekEffects {
		logit := distuv.Normal{Mu: 0, Sigma: m.cfg.WeekSD}
		for i := 0; i < 7; i++ {
			lp += logit.LogProb(params[k+i])
		}
		k += 7
	}
	if m.cfg.ScaleSD > 0 {
		lp += distuv.Normal{Mu: math.Log(m.cfg.ScaleMean), Sigma: m.cfg.ScaleSD}.LogProb(params[k])
		k++
	}
	lp += m.cfg.Truncation.LogPrior(params[k:])
	return lp
}

// ExpectedReports convolves infections with the report-delay PMF and
// applies week effects, truncation and scaling. prefix holds pre-horizon
// infections (the seeding window) so early days keep their delayed mass;
// it may be nil. The result covers the full horizon.
func (m *Model) ExpectedReports(prefix, infections, delayPMF []float64, params []float64) ([]float64, error) {
	if len(infections) < m.horizon {
		return nil, fmt.Errorf("infection series length %d, need %d", len(infections), m.horizon)
	}
	at := func(i int) float64 {
		if i >= 0 {
			return infections[i]
		}
		j := len(prefix) + i
		if j < 0 {
			return 0
		}
		return prefix[j]
	}

	expected := make([]float64, m.horizon)
	for t := 0; t < m.horizon; t++ {
		v := 0.0
		for d := 0; d < len(delayPMF); d++ {
			v += delayPMF[d] * at(t-d)
		}
		expected[t] = v
	}

	k := 0
	if m.cfg.Overdispersion {
		k++
	}
	if m.cfg.WeekEffects {
		w := weekWeights(params[k : k+7])
		for t := 0; t < m.horizon; t++ {
			expected[t] *= w[(m.weekday0+t)%7]
		}
		k += 7
	}
	scale := 1.0
	if m.cfg.ScaleMean > 0 {
		scale = m.cfg.ScaleMean
	}
	if m.cfg.ScaleSD > 0 {
		scale = math.Exp(params[k])
		k++
	}
	if scale != 1 {
		for t := range expected {
			expected[t] *= scale
		}
	}

	if len(m.cfg.Truncation.Stages) > 0 {
		pmf, err := m.cfg.Truncation.PMF(params[k:])
		if err != nil {
			return nil, err
		}
		cdf := delay.CDF(pmf)
		// The most recent fitted days are thinned by the probability a
		// case with that much lead time has already been reported.
		// Forecast days are expected final counts and stay untouched.
		for t := m.fit - 1; t >= 0 && m.fit-1-t < len(cdf); t-- {
			expected[t] *= cdf[m.fit-1-t]
		}
	}
	return expected, nil
}

// weekWeights normalizes 7 logits to multiplicative weights with
// arithmetic mean exactly 1.
func weekWeights(logits []float64) [7]float64 {
	var w [7]float64
	sum := 0.0
	for i := 0; i < 7; i++ {
		w[i] = math.Exp(logits[i])
		sum += w[i]
	}
	for i := 0; i < 7; i++ {
		w[i] *= 7 / sum
	}
	return w
}

// LogLikelihood scores observed counts against expected reports over the
// fitted range. NaN observations are skipped: they contribute nothing to
// the likelihood but their dates stay in every summarized quantity.
func (m *Model) LogLikelihood(expected, observed []float64, params []float64) float64 {
	phi := math.Inf(1)
	if m.cfg.Overdispersion {
		phi = math.Exp(params[0])
	}
	ll := 0.0
	n := m.fit
	if len(observed) < n {
		n = len(observed)
	}
	for t := 0; t < n; t++ {
		y := observed[t]
		if math.IsNaN(y) {
			continue
		}
		mu := expected[t]
		if mu < 1e-8 {
			mu = 1e-8
		}
		if m.cfg.Overdispersion {
			ll += negBinomLogPMF(y, mu, phi)
		} else {
			ll += y*math.Log(mu) - mu - lgamma(y+1)
		}
	}
	return ll
}

// negBinomLogPMF is the mean/dispersion negative binomial log mass.
// Variance is mu + mu^2/phi; phi -> Inf recovers Poisson.
func negBinomLogPMF(y, mu, phi float64) float64 {
	return lgamma(y+phi) - lgamma(phi) - lgamma(y+1) +
		phi*math.Log(phi/(phi+mu)) + y*math.Log(mu/(phi+mu))
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
