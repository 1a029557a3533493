// Package series holds observed case-report time series and their
// validation rules. A series is daily: one row per calendar date, counts
// may be missing (recorded as NaN) for dates where reporting skipped.
package series

import (
	"fmt"
	"math"
	"time"
)

// Missing marks a date with no usable observation. Missing dates stay in
// the series so latent inference still covers them; the likelihood skips
// them.
var Missing = math.NaN()

// Cases is a single region's reported case series.
type Cases struct {
	// Dates, strictly increasing, one per day.
	Dates []time.Time
	// Counts per date. NaN means missing.
	Counts []float64
	// Breakpoints marks dates where a piecewise Rt model may place a
	// change. Nil when the caller supplies none.
	Breakpoints []bool
}

// Len returns the number of dates in the series.
func (c *Cases) Len() int { return len(c.Dates) }

// IsMissing reports whether the observation at index i is usable.
func (c *Cases) IsMissing(i int) bool {
	return math.IsNaN(c.Counts[i])
}

// BreakpointIndices lists the indices flagged as breakpoints.
func (c *Cases) BreakpointIndices() []int {
	var idx []int
	for i, b := range c.Breakpoints {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks the structural invariants the estimation driver relies
// on: equal-length columns, strictly increasing daily dates, no duplicates,
// at least one non-missing non-negative count.
func (c *Cases) Validate() error {
	if c == nil || len(c.Dates) == 0 {
		return fmt.Errorf("empty case series")
	}
	if len(c.Counts) != len(c.Dates) {
		return fmt.Errorf("dates/counts length mismatch: %d vs %d", len(c.Dates), len(c.Counts))
	}
	if c.Breakpoints != nil && len(c.Breakpoints) != len(c.Dates) {
		return fmt.Errorf("dates/breakpoints length mismatch: %d vs %d", len(c.Dates), len(c.Breakpoints))
	}
	seen := 0
	for i := range c.Dates {
		if i > 0 {
			prev, cur := c.Dates[i-1], c.Dates[i]
			if !cur.After(prev) {
				if cur.Equal(prev) {
					return fmt.Errorf("duplicate date %s at row %d", cur.Format(dateLayout), i+1)
				}
				return fmt.Errorf("dates not increasing at row %d: %s after %s",
					i+1, cur.Format(dateLayout), prev.Format(dateLayout))
			}
			if cur.Sub(prev) != 24*time.Hour {
				return fmt.Errorf("gap in daily series at row %d: %s to %s",
					i+1, prev.Format(dateLayout), cur.Format(dateLayout))
			}
		}
		v := c.Counts[i]
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || math.IsInf(v, 0) {
			return fmt.Errorf("bad count %v on %s", v, c.Dates[i].Format(dateLayout))
		}
		seen++
	}
	if seen == 0 {
		return fmt.Errorf("all %d observations missing", len(c.Dates))
	}
	return nil
}

// Observed returns the non-missing counts and their indices.
func (c *Cases) Observed() (idx []int, counts []float64) {
	for i, v := range c.Counts {
		if !math.IsNaN(v) {
			idx = append(idx, i)
			counts = append(counts, v)
		}
	}
	return idx, counts
}
