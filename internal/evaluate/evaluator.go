package evaluate

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"microstructure-lab/internal/model"
)

// Confusion counts predictions against truth for label 1 as the positive class.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

func NewConfusion(want, got []int) Confusion {
	var c Confusion
	for i := range want {
		switch {
		case want[i] == 1 && got[i] == 1:
			c.TP++
		case want[i] == 0 && got[i] == 1:
			c.FP++
		case want[i] == 0:
			c.TN++
		default:
			c.FN++
		}
	}
	return c
}

func (c Confusion) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

func (c Confusion) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// FoldScore is the held-out accuracy of one fold.
type FoldScore struct {
	Fold     int     `json:"fold"`
	Train    int     `json:"train"`
	Test     int     `json:"test"`
	Accuracy float64 `json:"accuracy"`
}

// Result of one evaluation run. Predictions align 1:1 with the original rows.
type Result struct {
	Folds        []FoldScore `json:"folds"`
	MeanAccuracy float64     `json:"meanAccuracy"`
	Predictions  []int       `json:"-"`

	// Baseline is the majority-class accuracy on the original rows.
	Baseline         float64   `json:"baseline"`
	OriginalAccuracy float64   `json:"originalAccuracy"`
	Confusion        Confusion `json:"confusion"`
}

// FoldHook is called after each fold completes.
type FoldHook func(FoldScore)

type Evaluator struct {
	factory model.Factory
	kfold   StratifiedKFold
	onFold  FoldHook
}

func New(factory model.Factory, kfold StratifiedKFold) *Evaluator {
	return &Evaluator{factory: factory, kfold: kfold}
}

// OnFold registers a per-fold callback (metrics, logging).
func (e *Evaluator) OnFold(h FoldHook) { e.onFold = h }

// Evaluate cross-validates on the balanced set, then fits one more fresh model
// on the whole balanced set and predicts every original row.
func (e *Evaluator) Evaluate(ctx context.Context, bx [][]float64, by []int, ox [][]float64, oy []int) (Result, error) {
	var res Result
	if len(bx) != len(by) || len(ox) != len(oy) {
		return res, fmt.Errorf("evaluate: mismatched rows and labels")
	}
	folds, err := e.kfold.Split(by)
	if err != nil {
		return res, err
	}

	accs := make([]float64, 0, len(folds))
	for k, f := range folds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m := e.factory()
		if err := m.Fit(pick(bx, f.Train), pickInt(by, f.Train)); err != nil {
			return res, fmt.Errorf("fold %d: fit: %w", k, err)
		}
		acc, err := model.Score(m, pick(bx, f.Test), pickInt(by, f.Test))
		if err != nil {
			return res, fmt.Errorf("fold %d: score: %w", k, err)
		}
		fs := FoldScore{Fold: k, Train: len(f.Train), Test: len(f.Test), Accuracy: acc}
		res.Folds = append(res.Folds, fs)
		accs = append(accs, acc)
		if e.onFold != nil {
			e.onFold(fs)
		}
	}
	res.MeanAccuracy = stat.Mean(accs, nil)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	final := e.factory()
	if err := final.Fit(bx, by); err != nil {
		return res, fmt.Errorf("final fit: %w", err)
	}
	if len(ox) == 0 {
		return res, nil
	}
	res.Predictions, err = final.Predict(ox)
	if err != nil {
		return res, fmt.Errorf("final predict: %w", err)
	}
	res.OriginalAccuracy = model.Accuracy(oy, res.Predictions)
	res.Baseline = MajorityBaseline(oy)
	res.Confusion = NewConfusion(oy, res.Predictions)
	return res, nil
}

// MajorityBaseline is the accuracy of always predicting the most frequent label.
func MajorityBaseline(y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	counts := make(map[int]int)
	best := 0
	for _, l := range y {
		counts[l]++
		if counts[l] > best {
			best = counts[l]
		}
	}
	return float64(best) / float64(len(y))
}

func pick(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func pickInt(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
