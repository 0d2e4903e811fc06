package stats

import (
	"fmt"
	"strings"
)

// Thresholds used by ConfusionSweep
var SweepThresholds = []float64{0, 0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875}

// Matrix is a 2x2 confusion matrix indexed by [actual][predicted] class.
type Matrix [2][2]int

// Confusion counts predictions against labels where a sample is predicted positive if its
// score is greater than the threshold.
func Confusion(labels, scores []float32, threshold float64) Matrix {
	var m Matrix
	for i, s := range scores {
		actual, pred := 0, 0
		if labels[i] > 0.5 {
			actual = 1
		}
		if float64(s) > threshold {
			pred = 1
		}
		m[actual][pred]++
	}
	return m
}

func (m Matrix) Total() int { return m[0][0] + m[0][1] + m[1][0] + m[1][1] }

// Accuracy as a fraction of the total samples
func (m Matrix) Accuracy() float64 {
	return ratio(float64(m[0][0]+m[1][1]), float64(m.Total()))
}

func (m Matrix) Precision() float64 {
	return ratio(float64(m[1][1]), float64(m[1][1]+m[0][1]))
}

func (m Matrix) Recall() float64 {
	return ratio(float64(m[1][1]), float64(m[1][1]+m[1][0]))
}

func (m Matrix) String() string {
	return fmt.Sprintf("actual\\pred %6s %6s\n%-11s %6d %6d\n%-11s %6d %6d",
		"0", "1", "0", m[0][0], m[0][1], "1", m[1][0], m[1][1])
}

// ThresholdMatrix is a confusion matrix for one threshold.
type ThresholdMatrix struct {
	Threshold float64
	Matrix
}

// ConfusionSweep returns a confusion matrix for each of the SweepThresholds.
func ConfusionSweep(labels, scores []float32) []ThresholdMatrix {
	res := make([]ThresholdMatrix, len(SweepThresholds))
	for i, t := range SweepThresholds {
		res[i] = ThresholdMatrix{Threshold: t, Matrix: Confusion(labels, scores, t)}
	}
	return res
}

// FormatSweep returns a table with one row per threshold.
func FormatSweep(sweep []ThresholdMatrix) string {
	s := []string{fmt.Sprintf("%9s %5s %5s %5s %5s %8s %9s %6s", "threshold", "TN", "FP", "FN", "TP", "accuracy", "precision", "recall")}
	for _, r := range sweep {
		s = append(s, fmt.Sprintf("%9.3f %5d %5d %5d %5d %7.1f%% %9.3f %6.3f", r.Threshold,
			r.Matrix[0][0], r.Matrix[0][1], r.Matrix[1][0], r.Matrix[1][1], 100*r.Accuracy(), r.Precision(), r.Recall()))
	}
	return strings.Join(s, "\n")
}
