package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// splitRhat computes the split-chain potential scale reduction statistic
// per parameter: each chain is halved, between- and within-sequence
// variances compared. Values near 1 indicate the chains agree.
func splitRhat(chains []Chain, dim int) []float64 {
	var seqs [][][]float64 // per split-sequence, per draw, per param
	for _, ch := range chains {
		n := len(ch.Draws)
		if n < 4 {
			continue
		}
		seqs = append(seqs, ch.Draws[:n/2], ch.Draws[n/2:n/2*2])
	}
	out := make([]float64, dim)
	if len(seqs) < 2 {
		for d := range out {
			out[d] = math.NaN()
		}
		return out
	}
	n := len(seqs[0])
	for d := 0; d < dim; d++ {
		means := make([]float64, len(seqs))
		vars := make([]float64, len(seqs))
		for s, seq := range seqs {
			col := make([]float64, len(seq))
			for i, draw := range seq {
				col[i] = draw[d]
			}
			means[s], vars[s] = stat.MeanVariance(col, nil)
		}
		b := float64(n) * stat.Variance(means, nil)
		w := stat.Mean(vars, nil)
		if w <= 0 {
			// Degenerate parameter (all draws identical); call it converged.
			out[d] = 1
			continue
		}
		varPlus := (float64(n-1)/float64(n))*w + b/float64(n)
		out[d] = math.Sqrt(varPlus / w)
	}
	return out
}

// effectiveSampleSize estimates per-parameter ESS from within-chain
// autocorrelations, truncating the lag sum at the first negative estimate.
func effectiveSampleSize(chains []Chain, dim int) []float64 {
	out := make([]float64, dim)
	for d := 0; d < dim; d++ {
		total := 0.0
		for _, ch := range chains {
			n := len(ch.Draws)
			if n < 4 {
				total += float64(n)
				continue
			}
			col := make([]float64, n)
			for i, draw := range ch.Draws {
				col[i] = draw[d]
			}
			mean, variance := stat.MeanVariance(col, nil)
			if variance <= 0 {
				total += float64(n)
				continue
			}
			sum := 0.0
			for lag := 1; lag < n/2; lag++ {
				acf := 0.0
				for i := 0; i+lag < n; i++ {
					acf += (col[i] - mean) * (col[i+lag] - mean)
				}
				acf /= float64(n-lag) * variance
				if acf < 0 {
					break
				}
				sum += acf
			}
			total += float64(n) / (1 + 2*sum)
		}
		out[d] = total
	}
	return out
}
