package analysis

import (
	"errors"
	"fmt"
	"time"

	"microstructure-lab/internal/features"
	"microstructure-lab/market"
)

// VolumePoint pairs a tick's bid volume with the relative change of its mid
// price from the previous tick of the same group.
type VolumePoint struct {
	Period    string    `json:"period"`
	Timestamp time.Time `json:"timestamp"`
	BidVolume float64   `json:"bidVolume"`
	Change    float64   `json:"change"`
}

// VolumePriceChange returns one point per tick except the first of each group,
// which has no previous mid. Ticks after a zero mid are skipped.
func VolumePriceChange(d market.Dataset, instrument string) []VolumePoint {
	var out []VolumePoint
	for _, g := range d.Groups() {
		if g.Key.Instrument != instrument {
			continue
		}
		for i := 1; i < len(g.Ticks); i++ {
			prev := g.Ticks[i-1].Mid()
			if prev == 0 {
				continue
			}
			t := g.Ticks[i]
			out = append(out, VolumePoint{
				Period:    t.Period,
				Timestamp: t.Timestamp,
				BidVolume: t.BidVolume,
				Change:    t.Mid()/prev - 1,
			})
		}
	}
	return out
}

// GroupDrops counts rows whose momentum crosses the drop threshold.
type GroupDrops struct {
	Group string  `json:"group"`
	Rows  int     `json:"rows"`
	Drops int     `json:"drops"`
	Rate  float64 `json:"rate"`
}

// DropSummary labels feature rows with l and tallies flagged rows per group,
// in order of first appearance.
func DropSummary(rows []market.FeatureRow, l features.Labeler) ([]GroupDrops, error) {
	labeled, err := l.Label(rows)
	if err != nil {
		return nil, err
	}
	index := make(map[market.GroupKey]int)
	var out []GroupDrops
	for _, r := range labeled {
		k := r.Key()
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, GroupDrops{Group: k.String()})
		}
		out[i].Rows++
		out[i].Drops += r.SharpChange
	}
	for i := range out {
		out[i].Rate = float64(out[i].Drops) / float64(out[i].Rows)
	}
	return out, nil
}

// Options select what Explore computes.
type Options struct {
	Instrument string
	Period     string
	Bucket     time.Duration
	Clusters   int
	Seed       uint64
	// DropThreshold feeds the drop labeler; zero keeps its default.
	DropThreshold float64
}

// Overview bundles every exploration view for one dataset.
type Overview struct {
	Instruments []string          `json:"instruments"`
	Correlation CorrelationMatrix `json:"correlation"`
	Heatmap     Heatmap           `json:"heatmap"`
	Bars        []Series          `json:"bars"`
	Volume      []VolumePoint     `json:"volume"`
	Clusters    *TickClusters     `json:"clusters,omitempty"`
	Drops       []GroupDrops      `json:"drops,omitempty"`
}

// Explore builds the overview. rows may be nil, in which case drop counts are
// skipped. Clustering is skipped when the instrument has fewer ticks than
// clusters.
func Explore(d market.Dataset, rows []market.FeatureRow, opt Options) (Overview, error) {
	if d.Empty() {
		return Overview{}, fmt.Errorf("explore: empty dataset")
	}
	if opt.Bucket <= 0 {
		opt.Bucket = time.Minute
	}
	if opt.Instrument == "" {
		opt.Instrument = d.Ticks[0].Instrument
	}
	if opt.Period == "" {
		opt.Period = d.Ticks[0].Period
	}
	ov := Overview{
		Instruments: d.Instruments(),
		Correlation: Correlation(d),
		Heatmap:     PeriodHeatmap(d, opt.Instrument, opt.Bucket),
		Bars:        ResampleAll(d, opt.Period, opt.Bucket),
		Volume:      VolumePriceChange(d, opt.Instrument),
	}
	if opt.Clusters > 0 {
		c, err := ClusterTicks(d, opt.Instrument, NewKMeans(opt.Clusters, opt.Seed))
		switch {
		case err == nil:
			ov.Clusters = &c
		case !errors.Is(err, ErrTooFewPoints):
			return ov, err
		}
	}
	if rows != nil {
		l := features.NewDropLabeler()
		if opt.DropThreshold > 0 {
			l.Threshold = opt.DropThreshold
		}
		drops, err := DropSummary(rows, l)
		if err != nil {
			return ov, err
		}
		ov.Drops = drops
	}
	return ov, nil
}
