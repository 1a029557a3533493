package renewal

import (
	"math"
	"testing"
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

// Rt pinned at 1 with no process noise: the renewal recursion must settle
// at a constant infection level equal to the seed level, up to seeding
// transients.
func TestInfections_SteadyStateAtRtOne(t *testing.T) {
	gen := []float64{0, 0.3, 0.5, 0.2}
	p, err := New(Config{}, 20, 0, len(gen)-1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.NumParams() != 2 {
		t.Fatalf("NumParams = %d, want 2", p.NumParams())
	}
	rt := constSlice(20, 1.0)
	_, inf, err := p.Infections(rt, gen, []float64{math.Log(50), 0})
	if err != nil {
		t.Fatalf("Infections: %v", err)
	}
	for i, v := range inf {
		if !almostEqual(v, 50, 1e-6) {
			t.Errorf("inf[%d] = %v, want 50", i, v)
		}
	}
}

func TestInfections_GrowsAboveRtOne(t *testing.T) {
	gen := []float64{0, 1}
	p, err := New(Config{}, 10, 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt := constSlice(10, 2.0)
	_, inf, err := p.Infections(rt, gen, []float64{math.Log(10), 0})
	if err != nil {
		t.Fatalf("Infections: %v", err)
	}
	// With all generation mass at lag 1, I_t = 2 I_{t-1}.
	want := 20.0
	for i, v := range inf {
		if !almostEqual(v, want, 1e-6) {
			t.Errorf("inf[%d] = %v, want %v", i, v, want)
		}
		want *= 2
	}
}

func TestInfections_PositiveAlways(t *testing.T) {
	gen := []float64{0.1, 0.4, 0.5}
	p, err := New(Config{}, 15, 5, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt := constSlice(20, 0.4)
	_, inf, err := p.Infections(rt, gen, []float64{math.Log(5), 0.05})
	if err != nil {
		t.Fatalf("Infections: %v", err)
	}
	for i, v := range inf {
		if v <= 0 || math.IsNaN(v) {
			t.Fatalf("inf[%d] = %v, want strictly positive", i, v)
		}
	}
}

// Depletion dampens forecast-step Rt as cumulative infections approach the
// population, and leaves fitted steps untouched.
func TestInfections_SusceptibleDepletion(t *testing.T) {
	gen := []float64{0, 1}
	params := []float64{math.Log(100), 0.0}
	rt := constSlice(20, 1.5)

	open, err := New(Config{}, 10, 10, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	limited, err := New(Config{Population: 1e6}, 10, 10, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, infOpen, err := open.Infections(rt, gen, params)
	if err != nil {
		t.Fatalf("Infections open: %v", err)
	}
	_, infLim, err := limited.Infections(rt, gen, params)
	if err != nil {
		t.Fatalf("Infections limited: %v", err)
	}

	// Fitted range identical: correction never applies retroactively.
	for i := 0; i < 10; i++ {
		if !almostEqual(infOpen[i], infLim[i], 1e-9) {
			t.Errorf("fitted inf[%d] differs with population set: %v vs %v", i, infOpen[i], infLim[i])
		}
	}
	// Forecast range strictly dampened.
	for i := 10; i < 20; i++ {
		if infLim[i] >= infOpen[i] {
			t.Errorf("forecast inf[%d] = %v, want below unlimited %v", i, infLim[i], infOpen[i])
		}
	}
	// Dampening strengthens as the cumulative count approaches N: the
	// ratio to the unlimited run shrinks over the forecast.
	r1 := infLim[11] / infOpen[11]
	r2 := infLim[19] / infOpen[19]
	if r2 >= r1 {
		t.Errorf("depletion should strengthen over time: ratio %v then %v", r1, r2)
	}
}

func TestInfections_RejectsLagZeroOnly(t *testing.T) {
	p, err := New(Config{}, 5, 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := p.Infections(constSlice(5, 1), []float64{1}, []float64{0, 0}); err == nil {
		t.Fatal("expected error for degenerate generation time")
	}
	if _, _, err := p.Infections(constSlice(5, 1), []float64{1, 0}, []float64{0, 0}); err == nil {
		t.Fatal("expected error for generation time with no mass beyond lag 0")
	}
}

func TestProcessNoise_ParamsAndDeterminismAtZero(t *testing.T) {
	gen := []float64{0, 1}
	p, err := New(Config{ProcessNoise: true}, 8, 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.NumParams() != 2+1+8 {
		t.Fatalf("NumParams = %d, want 11", p.NumParams())
	}
	params := make([]float64, p.NumParams())
	params[0] = math.Log(30)
	params[2] = math.Log(1e-12) // effectively zero noise sd
	_, inf, err := p.Infections(constSlice(8, 1), gen, params)
	if err != nil {
		t.Fatalf("Infections: %v", err)
	}
	for i, v := range inf {
		if !almostEqual(v, 30, 1e-6) {
			t.Errorf("inf[%d] = %v, want 30", i, v)
		}
	}
}

func TestBackcalc_Curve(t *testing.T) {
	b, err := NewBackcalc(5, 0.2)
	if err != nil {
		t.Fatalf("NewBackcalc: %v", err)
	}
	if b.NumParams() != 6 {
		t.Fatalf("NumParams = %d, want 6", b.NumParams())
	}
	// Step sd 1, innovations +0.1 each day.
	params := []float64{math.Log(10), 0, 0.1, 0.1, 0.1, 0.1}
	inf := b.Infections(params)
	if !almostEqual(inf[0], 10, 1e-9) {
		t.Errorf("inf[0] = %v, want 10", inf[0])
	}
	for i := 1; i < 5; i++ {
		if !almostEqual(inf[i]/inf[i-1], math.Exp(0.1), 1e-9) {
			t.Errorf("day %d ratio = %v, want %v", i, inf[i]/inf[i-1], math.Exp(0.1))
		}
	}
}

func TestLogPrior_RejectsNonFinite(t *testing.T) {
	p, err := New(Config{}, 5, 0, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if lp := p.LogPrior([]float64{math.Inf(1), 0}); !math.IsInf(lp, -1) {
		t.Errorf("Inf param should score -Inf, got %v", lp)
	}
}
