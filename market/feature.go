package market

import "fmt"

// WindowStat holds the rolling mean/std of mid price for one window.
// Size is the row count in count mode or the duration label (e.g. "30s") in time mode.
type WindowStat struct {
	Size string
	Mean float64
	Std  float64
}

// FeatureRow is a tick plus its derived features. Every field is defined.
type FeatureRow struct {
	Tick
	MidPrice float64
	Windows  []WindowStat
	Momentum float64
}

// Vector returns the classifier input: rolling means for every window, then
// rolling stds, then momentum.
func (r FeatureRow) Vector() []float64 {
	v := make([]float64, 0, 2*len(r.Windows)+1)
	for _, w := range r.Windows {
		v = append(v, w.Mean)
	}
	for _, w := range r.Windows {
		v = append(v, w.Std)
	}
	return append(v, r.Momentum)
}

// FeatureNames matches Vector's column order.
func FeatureNames(windows []string) []string {
	names := make([]string, 0, 2*len(windows)+1)
	for _, w := range windows {
		names = append(names, fmt.Sprintf("rolling_avg_%s", w))
	}
	for _, w := range windows {
		names = append(names, fmt.Sprintf("rolling_std_%s", w))
	}
	return append(names, "momentum")
}

// LabeledRow attaches the binary sharp-change label to a feature row.
type LabeledRow struct {
	FeatureRow
	SharpChange int
	// ZScore is only set by the z-score labeler.
	ZScore float64
}

// Matrix splits labeled rows into a feature matrix and label vector.
func Matrix(rows []LabeledRow) ([][]float64, []int) {
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		x[i] = r.Vector()
		y[i] = r.SharpChange
	}
	return x, y
}
