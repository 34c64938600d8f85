package analysis

import (
	"math"
	"sort"
	"time"

	"microstructure-lab/internal/ingest"
	"microstructure-lab/market"
)

// Heatmap is mean mid price per (time bucket, period) for one instrument.
type Heatmap struct {
	Instrument string      `json:"instrument"`
	Bucket     string      `json:"bucket"`
	Periods    []string    `json:"periods"`
	Buckets    []time.Time `json:"buckets"`
	Values     Grid        `json:"values"` // [bucket][period]
}

// PeriodHeatmap buckets timestamps with Truncate(bucket). Cells with no ticks are NaN.
func PeriodHeatmap(d market.Dataset, instrument string, bucket time.Duration) Heatmap {
	h := Heatmap{Instrument: instrument, Bucket: bucket.String()}
	type cell struct {
		bucket time.Time
		period string
	}
	sums := make(map[cell]float64)
	counts := make(map[cell]int)
	periods := make(map[string]struct{})
	buckets := make(map[time.Time]struct{})
	for _, t := range d.Ticks {
		if t.Instrument != instrument {
			continue
		}
		c := cell{bucket: t.Timestamp.UTC().Truncate(bucket), period: t.Period}
		sums[c] += t.Mid()
		counts[c]++
		periods[t.Period] = struct{}{}
		buckets[c.bucket] = struct{}{}
	}

	for p := range periods {
		h.Periods = append(h.Periods, p)
	}
	ingest.SortNatural(h.Periods)
	for b := range buckets {
		h.Buckets = append(h.Buckets, b)
	}
	sort.Slice(h.Buckets, func(i, j int) bool { return h.Buckets[i].Before(h.Buckets[j]) })

	h.Values = make(Grid, len(h.Buckets))
	for i, b := range h.Buckets {
		row := make([]float64, len(h.Periods))
		for j, p := range h.Periods {
			c := cell{bucket: b, period: p}
			if n := counts[c]; n > 0 {
				row[j] = sums[c] / float64(n)
			} else {
				row[j] = math.NaN()
			}
		}
		h.Values[i] = row
	}
	return h
}

// Series is one instrument's resampled bars within a period.
type Series struct {
	Instrument string        `json:"instrument"`
	Bars       []market.Kline `json:"bars"`
}

// ResampleAll resamples every instrument of one period into mean bars, in
// order of first appearance. Empty buckets are omitted.
func ResampleAll(d market.Dataset, period string, bucket time.Duration) []Series {
	var out []Series
	for _, g := range d.Groups() {
		if g.Key.Period != period {
			continue
		}
		bars := market.Resample(g.Ticks, bucket)
		if len(bars) == 0 {
			continue
		}
		out = append(out, Series{Instrument: g.Key.Instrument, Bars: bars})
	}
	return out
}
