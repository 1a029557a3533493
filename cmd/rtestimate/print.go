package main

import (
	"fmt"
	"io"
	"math"

	"rtestimate/internal/estimate"
)

// printResult writes the posterior summary tables in a compact console
// layout: one block per quantity, one row per date with the median and
// the widest credible band.
func printResult(w io.Writer, res *estimate.Result) {
	fmt.Fprintf(w, "run %s: %d fitted days + %d forecast days\n",
		res.ID, res.FitDays, res.Horizon)

	printTable(w, "Rt", res.Rt)
	printTable(w, "Infections", res.Infections)
	printTable(w, "Expected reports", res.Reports)
	printTable(w, "Growth rate", res.GrowthRate)
	printTable(w, "Doubling time (days)", res.DoublingTime)

	d := res.Diagnostics
	fmt.Fprintf(w, "\nDiagnostics: rhat(max) %.3f, ess(min) %.0f, divergences %d, chains %d/%d\n",
		d.MaxRhat, d.MinESS, d.Divergences, d.CompletedChains, d.RequestedChains)
	fmt.Fprintf(w, "Timing: warmup %s, sampling %s\n", d.WarmupTime, d.SampleTime)
	for _, warn := range d.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func printTable(w io.Writer, title string, rows []estimate.SummaryRow) {
	if len(rows) == 0 {
		return
	}
	wide := rows[0].Bands[len(rows[0].Bands)-1]
	fmt.Fprintf(w, "\n=== %s ===\n", title)
	fmt.Fprintf(w, "%-12s %-9s %12s %12s %12s\n",
		"date", "type", "median", fmt.Sprintf("lower %.0f%%", wide.Level*100), fmt.Sprintf("upper %.0f%%", wide.Level*100))
	for _, r := range rows {
		b := r.Bands[len(r.Bands)-1]
		fmt.Fprintf(w, "%-12s %-9s %12s %12s %12s\n",
			r.Date.Format("2006-01-02"), r.Type, num(r.Median), num(b.Lower), num(b.Upper))
	}
}

func num(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.Abs(v) >= 1000:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
