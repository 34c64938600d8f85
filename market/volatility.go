package market

import (
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RollingWindow holds the trailing mids up to and including the current row.
// Per row the caller does Add(mid, ts) -> Ready/Stats.
type RollingWindow interface {
	Add(mid float64, ts time.Time)
	Ready() bool
	Stats() (mean, std float64)
	Label() string
}

// CountWindow keeps the last size mids.
type CountWindow struct {
	size   int
	seen   int
	prices []float64
}

// NewCountWindow creates a trailing window of size observations.
func NewCountWindow(size int) *CountWindow {
	return &CountWindow{
		size:   size,
		prices: make([]float64, 0, size+1),
	}
}

// Add appends a mid and drops the oldest once the window is full.
func (w *CountWindow) Add(mid float64, _ time.Time) {
	w.seen++
	w.prices = append(w.prices, mid)
	if len(w.prices) > w.size {
		w.prices = w.prices[1:]
	}
}

// Ready 要求当前行之前已有 size 个观测。size 1 无法给出样本标准差，永不就绪。
func (w *CountWindow) Ready() bool {
	return w.size >= 2 && w.seen > w.size
}

// Stats returns mean and sample standard deviation (n-1).
func (w *CountWindow) Stats() (float64, float64) {
	return stat.MeanStdDev(w.prices, nil)
}

func (w *CountWindow) Label() string { return strconv.Itoa(w.size) }

// TimeWindow keeps mids whose timestamp lies in (t-d, t] for the row at t.
type TimeWindow struct {
	d      time.Duration
	first  time.Time
	prices []float64
	times  []time.Time
	now    time.Time
}

// NewTimeWindow creates a trailing window covering duration d.
func NewTimeWindow(d time.Duration) *TimeWindow {
	return &TimeWindow{d: d}
}

// Add moves the window end to ts, evicts samples at or before ts-d and
// appends the mid.
func (w *TimeWindow) Add(mid float64, ts time.Time) {
	if w.first.IsZero() {
		w.first = ts
	}
	w.now = ts
	cutoff := ts.Add(-w.d)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.prices = w.prices[i:]
		w.times = w.times[i:]
	}
	w.prices = append(w.prices, mid)
	w.times = append(w.times, ts)
}

// Ready requires the series history to span the whole duration and at least
// two samples inside it.
func (w *TimeWindow) Ready() bool {
	if w.first.IsZero() || w.first.After(w.now.Add(-w.d)) {
		return false
	}
	return len(w.prices) >= 2
}

func (w *TimeWindow) Stats() (float64, float64) {
	return stat.MeanStdDev(w.prices, nil)
}

func (w *TimeWindow) Label() string { return formatDuration(w.d) }

func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
