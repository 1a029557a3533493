package estimate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"rtestimate/internal/model"
	"rtestimate/internal/sampler"
	"rtestimate/internal/series"
)

// Band is one credible interval at a given level.
type Band struct {
	Level float64
	Lower float64
	Upper float64
}

// SummaryRow is the posterior summary of one quantity on one date.
type SummaryRow struct {
	Date time.Time
	// Type is "estimate" within the fitted range, "forecast" beyond it.
	Type   string
	Median float64
	Mean   float64
	SD     float64
	Bands  []Band
}

const (
	rhatThreshold = 1.05
	essThreshold  = 100.0
	// growthEps: growth rates closer to zero than this get an infinite
	// doubling time rather than an astronomically large finite one.
	growthEps = 1e-10
)

func defaultLevels(levels []float64) []float64 {
	if len(levels) == 0 {
		return []float64{0.2, 0.5, 0.9}
	}
	return levels
}

// summarize converts a draw ensemble into per-date quantile summaries and
// convergence diagnostics.
func summarize(j *model.Joint, draws *sampler.Result, cases *series.Cases, opts *Options, horizon int) (*Result, error) {
	levels := defaultLevels(opts.CredibleLevels)
	fit := cases.Len()

	hasRt := opts.Backcalc == nil
	span := horizon
	if !hasRt {
		span = fit
	}

	var (
		rtCols     = newCols(span)
		infCols    = newCols(span)
		repCols    = newCols(span)
		growthCols = newCols(span)
		doubleCols = newCols(span)
	)

	used := 0
	for _, ch := range draws.Chains {
		for _, x := range ch.Draws {
			d, err := j.Derive(x)
			if err != nil {
				continue
			}
			used++
			for t := 0; t < span; t++ {
				if hasRt {
					rtCols[t] = append(rtCols[t], d.Rt[t])
				}
				infCols[t] = append(infCols[t], d.Infections[t])
				repCols[t] = append(repCols[t], d.Reports[t])
				g := growthAt(d.Infections, t)
				growthCols[t] = append(growthCols[t], g)
				doubleCols[t] = append(doubleCols[t], doublingTime(g))
			}
		}
	}
	if used == 0 {
		return nil, &SamplingFailure{Err: fmt.Errorf("no draw produced finite derived quantities")}
	}

	res := &Result{}
	dates := rowDates(cases.Dates[0], span)
	rowType := func(t int) string {
		if t < fit {
			return "estimate"
		}
		return "forecast"
	}
	if hasRt {
		res.Rt = buildRows(rtCols, dates, rowType, levels)
	}
	res.Infections = buildRows(infCols, dates, rowType, levels)
	res.Reports = buildRows(repCols, dates, rowType, levels)
	res.GrowthRate = buildRows(growthCols, dates, rowType, levels)
	res.DoublingTime = buildRows(doubleCols, dates, rowType, levels)
	res.Diagnostics = buildDiagnostics(draws, used)
	return res, nil
}

// growthAt is the per-draw time-derivative of log infections, backward
// difference with the first day copying the second.
func growthAt(inf []float64, t int) float64 {
	if t == 0 {
		if len(inf) < 2 {
			return 0
		}
		t = 1
	}
	return math.Log(inf[t]) - math.Log(inf[t-1])
}

// doublingTime is log(2)/growth. Positive growth gives a positive
// doubling time, negative growth a negative "halving" time, and growth at
// zero an infinite value rather than a crash.
func doublingTime(g float64) float64 {
	if math.Abs(g) < growthEps {
		if math.Signbit(g) {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	return math.Ln2 / g
}

func newCols(n int) [][]float64 {
	return make([][]float64, n)
}

func rowDates(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func buildRows(cols [][]float64, dates []time.Time, rowType func(int) string, levels []float64) []SummaryRow {
	rows := make([]SummaryRow, len(cols))
	for t, col := range cols {
		sort.Float64s(col)
		row := SummaryRow{
			Date:   dates[t],
			Type:   rowType(t),
			Median: stat.Quantile(0.5, stat.Empirical, col, nil),
			Mean:   stat.Mean(col, nil),
			SD:     stat.StdDev(col, nil),
		}
		for _, l := range levels {
			lo := (1 - l) / 2
			row.Bands = append(row.Bands, Band{
				Level: l,
				Lower: stat.Quantile(lo, stat.Empirical, col, nil),
				Upper: stat.Quantile(1-lo, stat.Empirical, col, nil),
			})
		}
		rows[t] = row
	}
	return rows
}

func buildDiagnostics(draws *sampler.Result, used int) Diagnostics {
	d := Diagnostics{
		Divergences:     draws.Diag.Divergences,
		CompletedChains: draws.Diag.CompletedChains,
		RequestedChains: draws.Diag.RequestedChains,
		Approximate:     draws.Diag.Approximate,
		WarmupTime:      draws.Diag.WarmupTime,
		SampleTime:      draws.Diag.SampleTime,
	}
	d.MaxRhat = 1
	for _, r := range draws.Diag.Rhat {
		if !math.IsNaN(r) && r > d.MaxRhat {
			d.MaxRhat = r
		}
	}
	d.MinESS = math.Inf(1)
	for _, e := range draws.Diag.ESS {
		if !math.IsNaN(e) && e < d.MinESS {
			d.MinESS = e
		}
	}
	if math.IsInf(d.MinESS, 1) {
		d.MinESS = float64(used)
	}

	if d.MaxRhat > rhatThreshold {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("potential scale reduction %.3f above %.2f: chains may not have mixed", d.MaxRhat, rhatThreshold))
	}
	if !d.Approximate && d.MinESS < essThreshold {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("effective sample size %.0f below %.0f", d.MinESS, essThreshold))
	}
	if d.Divergences > 0 {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("%d divergent transitions", d.Divergences))
	}
	if d.CompletedChains < d.RequestedChains {
		d.ReducedDraws = true
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("timeout: %d of %d chains completed, summaries use a reduced ensemble",
				d.CompletedChains, d.RequestedChains))
	}
	return d
}
