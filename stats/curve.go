package stats

import (
	"math"
	"sort"
)

// Curve is a sequence of points for a ROC or precision-recall plot. Threshold[i] is the
// minimum score classified as positive at point i.
type Curve struct {
	X, Y      []float64
	Threshold []float64
}

func (c Curve) Len() int { return len(c.X) }

func (c Curve) XY(i int) (x, y float64) { return c.X[i], c.Y[i] }

// cumulative true and false positive counts at each distinct score, highest score first
type counts struct {
	tp, fp    []float64
	threshold []float64
	pos, neg  float64
}

func cumulative(labels, scores []float32) counts {
	index := make([]int, len(scores))
	for i := range index {
		index[i] = i
	}
	sort.SliceStable(index, func(i, j int) bool { return scores[index[i]] > scores[index[j]] })
	var c counts
	var tp, fp float64
	for i, ix := range index {
		if labels[ix] > 0.5 {
			tp++
		} else {
			fp++
		}
		if i == len(index)-1 || scores[index[i+1]] != scores[ix] {
			c.tp = append(c.tp, tp)
			c.fp = append(c.fp, fp)
			c.threshold = append(c.threshold, float64(scores[ix]))
		}
	}
	c.pos, c.neg = tp, fp
	return c
}

// ROC returns the receiver operating characteristic: false positive rate on X against true
// positive rate on Y, starting from (0, 0) with an infinite threshold.
func ROC(labels, scores []float32) Curve {
	c := cumulative(labels, scores)
	roc := Curve{X: []float64{0}, Y: []float64{0}, Threshold: []float64{math.Inf(1)}}
	for i := range c.tp {
		roc.X = append(roc.X, ratio(c.fp[i], c.neg))
		roc.Y = append(roc.Y, ratio(c.tp[i], c.pos))
		roc.Threshold = append(roc.Threshold, c.threshold[i])
	}
	return roc
}

// AUC calculates the area under the curve using the trapezoidal rule.
func AUC(c Curve) float64 {
	var area float64
	for i := 1; i < c.Len(); i++ {
		area += (c.X[i] - c.X[i-1]) * (c.Y[i] + c.Y[i-1]) / 2
	}
	return math.Abs(area)
}

// PrecisionRecall returns recall on X against precision on Y, starting from recall 0 and
// precision 1 and moving to lower thresholds.
func PrecisionRecall(labels, scores []float32) Curve {
	c := cumulative(labels, scores)
	pr := Curve{X: []float64{0}, Y: []float64{1}, Threshold: []float64{math.Inf(1)}}
	for i := range c.tp {
		pr.X = append(pr.X, ratio(c.tp[i], c.pos))
		pr.Y = append(pr.Y, ratio(c.tp[i], c.tp[i]+c.fp[i]))
		pr.Threshold = append(pr.Threshold, c.threshold[i])
	}
	return pr
}

// AveragePrecision is the mean of the precision at each threshold weighted by the increase in
// recall from the previous threshold.
func AveragePrecision(labels, scores []float32) float64 {
	pr := PrecisionRecall(labels, scores)
	var ap float64
	for i := 1; i < pr.Len(); i++ {
		ap += (pr.X[i] - pr.X[i-1]) * pr.Y[i]
	}
	return ap
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
