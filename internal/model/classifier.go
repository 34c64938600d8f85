// Package model 提供交叉验证使用的二分类器。
package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotFitted = errors.New("model: not fitted")
	ErrEmpty     = errors.New("model: empty training set")
	ErrShape     = errors.New("model: ragged or mismatched input")
	ErrLabel     = errors.New("model: labels must be 0 or 1")
)

// Classifier is a binary classifier over dense float rows.
type Classifier interface {
	Fit(x [][]float64, y []int) error
	PredictProba(x [][]float64) ([]float64, error)
	Predict(x [][]float64) ([]int, error)
}

// Factory returns a fresh, unfitted classifier. The evaluator calls it once per fold.
type Factory func() Classifier

// Score returns the accuracy of c on (x, y).
func Score(c Classifier, x [][]float64, y []int) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(x), len(y))
	}
	if len(y) == 0 {
		return 0, ErrEmpty
	}
	pred, err := c.Predict(x)
	if err != nil {
		return 0, err
	}
	return Accuracy(y, pred), nil
}

// Accuracy is the share of equal positions. Lengths must match.
func Accuracy(want, got []int) float64 {
	if len(want) == 0 {
		return 0
	}
	hit := 0
	for i := range want {
		if want[i] == got[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

// checkXY validates a training set and returns its width.
func checkXY(x [][]float64, y []int) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmpty
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(x), len(y))
	}
	dims := len(x[0])
	if dims == 0 {
		return 0, fmt.Errorf("%w: zero-width rows", ErrShape)
	}
	for i, row := range x {
		if len(row) != dims {
			return 0, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(row), dims)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: row %d has non-finite value", ErrShape, i)
			}
		}
		if y[i] != 0 && y[i] != 1 {
			return 0, fmt.Errorf("%w: row %d label %d", ErrLabel, i, y[i])
		}
	}
	return dims, nil
}
