package rtprocess

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestFixed_ConstantTrajectory(t *testing.T) {
	p, err := New(Config{Kind: Fixed}, 10, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.NumParams() != 1 {
		t.Fatalf("NumParams = %d, want 1", p.NumParams())
	}
	rt := p.Trajectory([]float64{math.Log(1.3)})
	if len(rt) != 15 {
		t.Fatalf("len = %d, want 15", len(rt))
	}
	for i, v := range rt {
		if !almostEqual(v, 1.3, 1e-9) {
			t.Errorf("rt[%d] = %v, want 1.3", i, v)
		}
	}
}

func TestRandomWalk_StepStructure(t *testing.T) {
	p, err := New(Config{Kind: RandomWalk, StepDays: 7}, 21, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// 3 steps over 21 days: logR0, log step sd, 2 innovations.
	if p.NumParams() != 4 {
		t.Fatalf("NumParams = %d, want 4", p.NumParams())
	}
	params := []float64{0, math.Log(0.5), 1.0, -1.0}
	rt := p.Trajectory(params)

	// Constant within each week.
	for _, week := range [][2]int{{0, 7}, {7, 14}, {14, 21}} {
		for t2 := week[0] + 1; t2 < week[1]; t2++ {
			if !almostEqual(rt[t2], rt[week[0]], 1e-12) {
				t.Errorf("rt[%d] = %v differs within step from rt[%d] = %v", t2, rt[t2], week[0], rt[week[0]])
			}
		}
	}
	// Steps move by exp(sd * z).
	if !almostEqual(rt[7], math.Exp(0+0.5*1.0), 1e-9) {
		t.Errorf("second step = %v, want %v", rt[7], math.Exp(0.5))
	}
	// Forecast freezes the last step.
	for t2 := 21; t2 < 25; t2++ {
		if !almostEqual(rt[t2], rt[20], 1e-12) {
			t.Errorf("forecast rt[%d] = %v, want last fitted %v", t2, rt[t2], rt[20])
		}
	}
}

func TestBreakpoints_PiecewiseConstant(t *testing.T) {
	p, err := New(Config{Kind: Breakpoints, ChangeIndices: []int{5, 10}}, 14, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.NumParams() != 3 {
		t.Fatalf("NumParams = %d, want 3", p.NumParams())
	}
	rt := p.Trajectory([]float64{0, 0.4, -0.7})
	for t2 := 0; t2 < 5; t2++ {
		if !almostEqual(rt[t2], 1.0, 1e-9) {
			t.Errorf("segment 1 rt[%d] = %v, want 1", t2, rt[t2])
		}
	}
	for t2 := 5; t2 < 10; t2++ {
		if !almostEqual(rt[t2], math.Exp(0.4), 1e-9) {
			t.Errorf("segment 2 rt[%d] = %v", t2, rt[t2])
		}
	}
	for t2 := 10; t2 < 14; t2++ {
		if !almostEqual(rt[t2], math.Exp(0.4-0.7), 1e-9) {
			t.Errorf("segment 3 rt[%d] = %v", t2, rt[t2])
		}
	}
}

func TestBreakpoints_RejectsOutOfRange(t *testing.T) {
	if _, err := New(Config{Kind: Breakpoints, ChangeIndices: []int{20}}, 14, 0); err == nil {
		t.Fatal("expected error for out-of-range breakpoint")
	}
	if _, err := New(Config{Kind: Breakpoints, ChangeIndices: []int{3, 3}}, 14, 0); err == nil {
		t.Fatal("expected error for duplicate breakpoint")
	}
}

func TestGP_BasisScalesWithSeries(t *testing.T) {
	short, err := New(Config{Kind: GP, BasisFraction: 0.3}, 20, 0)
	if err != nil {
		t.Fatalf("New short: %v", err)
	}
	long, err := New(Config{Kind: GP, BasisFraction: 0.3}, 100, 0)
	if err != nil {
		t.Fatalf("New long: %v", err)
	}
	if short.BasisCount() >= long.BasisCount() {
		t.Errorf("basis count should grow with series length: %d vs %d",
			short.BasisCount(), long.BasisCount())
	}
	if short.NumParams() != 3+short.BasisCount() {
		t.Errorf("NumParams = %d, want %d", short.NumParams(), 3+short.BasisCount())
	}
}

func TestGP_PositiveAndSmooth(t *testing.T) {
	p, err := New(Config{Kind: GP}, 30, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := make([]float64, p.NumParams())
	params[1] = math.Log(14) // length scale
	params[2] = math.Log(0.3)
	for i := 3; i < len(params); i++ {
		params[i] = math.Sin(float64(i)) // arbitrary but fixed coefficients
	}
	rt := p.Trajectory(params)
	for t2, v := range rt {
		if v <= 0 || math.IsNaN(v) {
			t.Fatalf("rt[%d] = %v, want strictly positive", t2, v)
		}
	}
}

func TestGP_LatestFreezesForecast(t *testing.T) {
	p, err := New(Config{Kind: GP, Forecast: Latest}, 20, 6)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := make([]float64, p.NumParams())
	params[2] = math.Log(0.4)
	for i := 3; i < len(params); i++ {
		params[i] = 0.5
	}
	rt := p.Trajectory(params)
	for t2 := 20; t2 < 26; t2++ {
		if !almostEqual(rt[t2], rt[19], 1e-12) {
			t.Errorf("latest policy: rt[%d] = %v, want %v", t2, rt[t2], rt[19])
		}
	}
}

func TestLogPrior_RejectsNonFinite(t *testing.T) {
	p, err := New(Config{Kind: Fixed}, 10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if lp := p.LogPrior([]float64{math.NaN()}); !math.IsInf(lp, -1) {
		t.Errorf("NaN param should score -Inf, got %v", lp)
	}
	if lp := p.LogPrior([]float64{0.1}); math.IsNaN(lp) || math.IsInf(lp, 0) {
		t.Errorf("valid param should score finite, got %v", lp)
	}
}
