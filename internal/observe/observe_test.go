package observe

import (
	"math"
	"testing"
	"time"

	"rtestimate/internal/delay"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func constSlice(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestExpectedReports_IdentityDelay(t *testing.T) {
	m, err := New(Config{}, 10, 10, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	inf := constSlice(10, 42)
	exp, err := m.ExpectedReports(nil, inf, []float64{1}, nil)
	if err != nil {
		t.Fatalf("ExpectedReports: %v", err)
	}
	for i, v := range exp {
		if !almostEqual(v, 42, 1e-9) {
			t.Errorf("exp[%d] = %v, want 42", i, v)
		}
	}
}

// A delay kernel shifts mass forward; the seed prefix keeps the early
// days from losing it.
func TestExpectedReports_DelayUsesPrefix(t *testing.T) {
	m, err := New(Config{}, 6, 6, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prefix := []float64{100, 100}
	inf := constSlice(6, 100)
	exp, err := m.ExpectedReports(prefix, inf, []float64{0.2, 0.5, 0.3}, nil)
	if err != nil {
		t.Fatalf("ExpectedReports: %v", err)
	}
	for i, v := range exp {
		if !almostEqual(v, 100, 1e-9) {
			t.Errorf("exp[%d] = %v, want 100 (constant flow through delay)", i, v)
		}
	}
}

func TestExpectedReports_WeekEffectsMeanOne(t *testing.T) {
	m, err := New(Config{WeekEffects: true}, 14, 14, time.Wednesday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.NumParams() != 7 {
		t.Fatalf("NumParams = %d, want 7", m.NumParams())
	}
	logits := []float64{0.3, -0.2, 0.1, 0.05, -0.4, 0.2, -0.05}
	exp, err := m.ExpectedReports(nil, constSlice(14, 70), []float64{1}, logits)
	if err != nil {
		t.Fatalf("ExpectedReports: %v", err)
	}
	// Weights average one, so a full week of constant infections keeps
	// its weekly total.
	week := 0.0
	for i := 0; i < 7; i++ {
		week += exp[i]
	}
	if !almostEqual(week, 7*70, 1e-6) {
		t.Errorf("weekly total = %v, want %v", week, 7*70.0)
	}
	// And individual days do move.
	moved := false
	for i := 0; i < 7; i++ {
		if math.Abs(exp[i]-70) > 1e-6 {
			moved = true
		}
	}
	if !moved {
		t.Error("week effects changed nothing")
	}
}

func TestExpectedReports_RightTruncationThinsRecentDays(t *testing.T) {
	trunc := delay.Spec{Stages: []delay.Stage{
		delay.NewFixed([]float64{0.5, 0.3, 0.2}),
	}}
	m, err := New(Config{Truncation: trunc}, 10, 12, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exp, err := m.ExpectedReports(nil, constSlice(12, 100), []float64{1}, nil)
	if err != nil {
		t.Fatalf("ExpectedReports: %v", err)
	}
	// Last fitted day keeps only the same-day reporting mass, the one
	// before a bit more, and days with a full lead time are untouched.
	if !almostEqual(exp[9], 50, 1e-9) {
		t.Errorf("exp[9] = %v, want 50", exp[9])
	}
	if !almostEqual(exp[8], 80, 1e-9) {
		t.Errorf("exp[8] = %v, want 80", exp[8])
	}
	if !almostEqual(exp[7], 100, 1e-9) {
		t.Errorf("exp[7] = %v, want 100", exp[7])
	}
	// Forecast days are final counts, never truncated.
	if !almostEqual(exp[11], 100, 1e-9) {
		t.Errorf("forecast exp[11] = %v, want 100", exp[11])
	}
}

func TestExpectedReports_Scaling(t *testing.T) {
	m, err := New(Config{ScaleMean: 0.4}, 5, 5, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exp, err := m.ExpectedReports(nil, constSlice(5, 100), []float64{1}, nil)
	if err != nil {
		t.Fatalf("ExpectedReports: %v", err)
	}
	for i, v := range exp {
		if !almostEqual(v, 40, 1e-9) {
			t.Errorf("exp[%d] = %v, want 40", i, v)
		}
	}
}

func TestLogLikelihood_SkipsMissing(t *testing.T) {
	m, err := New(Config{}, 4, 4, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exp := constSlice(4, 10)
	full := m.LogLikelihood(exp, []float64{10, 10, 10, 10}, nil)
	withNA := m.LogLikelihood(exp, []float64{10, math.NaN(), 10, 10}, nil)
	oneLess := m.LogLikelihood(exp, []float64{10, 10, 10}, nil)
	if !almostEqual(withNA, oneLess, 1e-9) {
		t.Errorf("NA observation should contribute nothing: %v vs %v", withNA, oneLess)
	}
	if withNA >= full {
		t.Errorf("dropping a well-fit term should lower the total: %v vs %v", withNA, full)
	}
}

// The negative binomial approaches Poisson as dispersion grows.
func TestNegBinom_PoissonLimit(t *testing.T) {
	y, mu := 7.0, 10.0
	pois := y*math.Log(mu) - mu - lgamma(y+1)
	nb := negBinomLogPMF(y, mu, 1e8)
	if !almostEqual(nb, pois, 1e-4) {
		t.Errorf("NB(phi=1e8) = %v, Poisson = %v", nb, pois)
	}
	// And low dispersion spreads mass: log-mass at the mean drops.
	if negBinomLogPMF(10, 10, 0.5) >= negBinomLogPMF(10, 10, 1e8) {
		t.Error("overdispersion should flatten the mass at the mean")
	}
}

func TestLogPrior_Blocks(t *testing.T) {
	trunc := delay.Spec{Stages: []delay.Stage{
		delay.NewLogNormal(delay.Prior{Mean: 0.5, SD: 0.1}, delay.Prior{Mean: 0.4, SD: 0.1}, 5),
	}}
	m, err := New(Config{Overdispersion: true, WeekEffects: true, Truncation: trunc}, 10, 10, time.Monday)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.NumParams() != 1+7+2 {
		t.Fatalf("NumParams = %d, want 10", m.NumParams())
	}
	params := make([]float64, m.NumParams())
	params[0] = math.Log(8)
	params[8] = 0.5
	params[9] = 0.4
	if lp := m.LogPrior(params); math.IsNaN(lp) || math.IsInf(lp, 0) {
		t.Errorf("LogPrior = %v, want finite", lp)
	}
	params[9] = -1 // sdlog out of support
	if lp := m.LogPrior(params); !math.IsInf(lp, -1) {
		t.Errorf("out-of-support truncation draw should score -Inf, got %v", lp)
	}
}
