// Package analysis 探索视图：相关性、热力图、聚类、成交量与价格变化。
package analysis

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"microstructure-lab/market"
)

// Grid is a labelled float matrix. NaN marks an undefined cell and encodes as JSON null.
type Grid [][]float64

func (g Grid) MarshalJSON() ([]byte, error) {
	out := make([][]*float64, len(g))
	for i, row := range g {
		out[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				out[i][j] = &row[j]
			}
		}
	}
	return json.Marshal(out)
}

// CorrelationMatrix is the pairwise Pearson correlation of mid prices between instruments.
type CorrelationMatrix struct {
	Instruments []string `json:"instruments"`
	Values      Grid     `json:"values"`
}

// Correlation pivots mid price by (timestamp, instrument), averaging duplicate
// timestamps, then correlates each pair over the timestamps both instruments
// share. Pairs with fewer than two shared timestamps or no variance are NaN.
func Correlation(d market.Dataset) CorrelationMatrix {
	instruments := d.Instruments()
	type acc struct {
		sum float64
		n   int
	}
	pivot := make(map[string]map[time.Time]*acc, len(instruments))
	for _, inst := range instruments {
		pivot[inst] = make(map[time.Time]*acc)
	}
	for _, t := range d.Ticks {
		col := pivot[t.Instrument]
		key := t.Timestamp.UTC()
		a := col[key]
		if a == nil {
			a = &acc{}
			col[key] = a
		}
		a.sum += t.Mid()
		a.n++
	}

	m := CorrelationMatrix{Instruments: instruments, Values: make(Grid, len(instruments))}
	for i := range instruments {
		m.Values[i] = make([]float64, len(instruments))
	}
	for i, a := range instruments {
		for j := i; j < len(instruments); j++ {
			b := instruments[j]
			var xs, ys []float64
			var keys []time.Time
			for ts := range pivot[a] {
				if _, ok := pivot[b][ts]; ok {
					keys = append(keys, ts)
				}
			}
			sort.Slice(keys, func(p, q int) bool { return keys[p].Before(keys[q]) })
			for _, ts := range keys {
				xa, xb := pivot[a][ts], pivot[b][ts]
				xs = append(xs, xa.sum/float64(xa.n))
				ys = append(ys, xb.sum/float64(xb.n))
			}
			c := math.NaN()
			if len(xs) >= 2 && stat.Variance(xs, nil) > 0 && stat.Variance(ys, nil) > 0 {
				c = stat.Correlation(xs, ys, nil)
			}
			m.Values[i][j] = c
			m.Values[j][i] = c
		}
	}
	return m
}
