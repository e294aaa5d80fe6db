package calibrate

import (
	"math"
	"sort"
)

const (
	ModeGlobalMaxRaw = "global_max_raw"
	ModeAutoTopK     = "auto_topk"
	ModeFixed        = "fixed"
)

// Targets for two-point sigmoid fitting.
const (
	globalHighQuantileTarget = 0.75
	autoHighTarget           = 0.95
	autoLowTarget            = 0.50
)

// Params define a sigmoid confidence mapping for raw retrieval scores.
type Params struct {
	K  float64
	X0 float64
}

// Sigmoid evaluates 1/(1+exp(-k(x-x0))) without overflow for large-magnitude
// arguments: the exponential is only ever taken of a non-positive value.
func (p Params) Sigmoid(x float64) float64 {
	z := p.K * (x - p.X0)
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Normalize maps raw scores through the sigmoid, preserving order.
func (p Params) Normalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i] = p.Sigmoid(x)
	}
	return out
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// FitGlobalMaxRaw fits one corpus-level sigmoid from the distribution of
// per-question maximum raw scores: the 75th percentile maps to 0.75 and the
// 25th to 0.25. Fewer than 4 samples or a flat distribution fall back to a
// unit-slope sigmoid centered on the median.
func FitGlobalMaxRaw(maxScores []float64) Params {
	if len(maxScores) == 0 {
		return Params{K: 1, X0: 0}
	}

	sorted := make([]float64, len(maxScores))
	copy(sorted, maxScores)
	sort.Float64s(sorted)

	median := quantile(sorted, 0.50)
	if len(sorted) < 4 {
		return Params{K: 1, X0: median}
	}

	q25 := quantile(sorted, 0.25)
	q75 := quantile(sorted, 0.75)
	if q75 <= q25 {
		return Params{K: 1, X0: median}
	}

	// Two-point inversion: sigmoid(k(q75-x0)) = 0.75 and symmetric at q25,
	// so x0 is the midpoint and k = logit(0.75) / ((q75-q25)/2) = ln(3)/halfspread.
	halfSpread := (q75 - q25) / 2
	return Params{
		K:  logit(globalHighQuantileTarget) / halfSpread,
		X0: (q25 + q75) / 2,
	}
}

// FitTopK fits a per-query sigmoid from that query's own result list: the
// top raw score maps to 0.95 and the bottom-of-top-K score to 0.50. A flat
// list falls back to a unit-slope sigmoid centered on the top score.
func FitTopK(topScore, bottomScore float64) Params {
	if topScore <= bottomScore {
		return Params{K: 1, X0: topScore}
	}

	a := logit(autoHighTarget)
	b := logit(autoLowTarget)
	k := (a - b) / (topScore - bottomScore)
	return Params{
		K:  k,
		X0: topScore - a/k,
	}
}

// quantile uses nearest-rank interpolation on an ascending-sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
