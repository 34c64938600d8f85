package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"microstructure-lab/market"
)

// LabelMode selects the sharp-change detection strategy.
type LabelMode string

const (
	// LabelAbsolute flags |momentum| > Threshold.
	LabelAbsolute LabelMode = "absolute"
	// LabelZScore flags momentum whose z-score against the trailing momenta is below ZCutoff.
	LabelZScore LabelMode = "zscore"
)

const (
	DefaultSharpThreshold = 0.05
	DefaultDropThreshold  = 0.02
	DefaultZWindow        = 30
	DefaultZCutoff        = -2.0
)

// Labeler maps feature rows to the binary sharp_change label.
type Labeler struct {
	Mode      LabelMode
	Threshold float64
	ZWindow   int
	ZCutoff   float64
}

// NewSharpLabeler returns the classifier-training labeler (|m| > 0.05).
func NewSharpLabeler() Labeler {
	return Labeler{Mode: LabelAbsolute, Threshold: DefaultSharpThreshold, ZWindow: DefaultZWindow, ZCutoff: DefaultZCutoff}
}

// NewDropLabeler returns the drop-detection labeler used by exploration views (|m| > 0.02).
func NewDropLabeler() Labeler {
	return Labeler{Mode: LabelAbsolute, Threshold: DefaultDropThreshold, ZWindow: DefaultZWindow, ZCutoff: DefaultZCutoff}
}

// IsSharp is the absolute rule. The inequality is strict.
func IsSharp(momentum, threshold float64) bool {
	return math.Abs(momentum) > threshold
}

func (l Labeler) Validate() error {
	switch l.Mode {
	case LabelAbsolute:
		if l.Threshold < 0 || math.IsNaN(l.Threshold) {
			return fmt.Errorf("labeler: threshold %v must be >= 0", l.Threshold)
		}
	case LabelZScore:
		if l.ZWindow < 2 {
			return fmt.Errorf("labeler: z-score window %d must be >= 2", l.ZWindow)
		}
	default:
		return fmt.Errorf("labeler: unknown mode %q", l.Mode)
	}
	return nil
}

// Label labels every row. In z-score mode rows without ZWindow earlier
// momenta in their group are dropped, so the output may be shorter.
func (l Labeler) Label(rows []market.FeatureRow) ([]market.LabeledRow, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Mode == LabelZScore {
		return l.labelZScore(rows), nil
	}
	out := make([]market.LabeledRow, len(rows))
	for i, r := range rows {
		out[i] = market.LabeledRow{FeatureRow: r}
		if IsSharp(r.Momentum, l.Threshold) {
			out[i].SharpChange = 1
		}
	}
	return out, nil
}

func (l Labeler) labelZScore(rows []market.FeatureRow) []market.LabeledRow {
	history := make(map[market.GroupKey][]float64)
	var out []market.LabeledRow
	for _, r := range rows {
		k := r.Key()
		prev := history[k]
		if len(prev) == l.ZWindow {
			mean, std := stat.MeanStdDev(prev, nil)
			z := 0.0
			if std > 0 {
				z = (r.Momentum - mean) / std
			}
			lr := market.LabeledRow{FeatureRow: r, ZScore: z}
			if z < l.ZCutoff {
				lr.SharpChange = 1
			}
			out = append(out, lr)
		}
		prev = append(prev, r.Momentum)
		if len(prev) > l.ZWindow {
			prev = prev[1:]
		}
		history[k] = prev
	}
	return out
}

// Positives counts rows labeled 1.
func Positives(rows []market.LabeledRow) int {
	n := 0
	for _, r := range rows {
		n += r.SharpChange
	}
	return n
}
