package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"microstructure-lab/market"
)

var ErrTooFewPoints = errors.New("analysis: fewer points than clusters")

// KMeans clusters points with k-means++ seeding and Lloyd iterations.
type KMeans struct {
	K       int
	Seed    uint64
	MaxIter int
	Tol     float64
}

func NewKMeans(k int, seed uint64) KMeans {
	return KMeans{K: k, Seed: seed, MaxIter: 300, Tol: 1e-4}
}

// Clustering is the result of one fit.
type Clustering struct {
	Centroids  [][]float64 `json:"centroids"`
	Labels     []int       `json:"labels"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
}

// Fit is deterministic for a fixed seed. Iteration stops when no centroid
// moves more than Tol or after MaxIter rounds. A cluster that loses all its
// points keeps its previous centroid.
func (km KMeans) Fit(points [][]float64) (Clustering, error) {
	if km.K < 1 {
		return Clustering{}, fmt.Errorf("analysis: k must be >= 1, got %d", km.K)
	}
	if len(points) < km.K {
		return Clustering{}, fmt.Errorf("%w: %d points, k=%d", ErrTooFewPoints, len(points), km.K)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return Clustering{}, fmt.Errorf("analysis: point %d has %d dims, want %d", i, len(p), dim)
		}
	}

	rng := rand.New(rand.NewPCG(km.Seed, km.Seed))
	centroids := km.seed(points, rng)
	labels := make([]int, len(points))
	res := Clustering{}
	for it := 1; it <= km.MaxIter; it++ {
		res.Iterations = it
		for i, p := range points {
			labels[i], _ = nearest(centroids, p)
		}
		next := make([][]float64, km.K)
		counts := make([]int, km.K)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(next[labels[i]], p)
			counts[labels[i]]++
		}
		shift := 0.0
		for c := range next {
			if counts[c] == 0 {
				copy(next[c], centroids[c])
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
			shift = math.Max(shift, floats.Distance(next[c], centroids[c], 2))
		}
		centroids = next
		if shift <= km.Tol {
			break
		}
	}
	for i, p := range points {
		var d float64
		labels[i], d = nearest(centroids, p)
		res.Inertia += d * d
	}
	res.Centroids = centroids
	res.Labels = labels
	return res, nil
}

// k-means++：首个中心均匀抽取，之后按到最近中心距离平方加权抽取
func (km KMeans) seed(points [][]float64, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, km.K)
	centroids = append(centroids, clone(points[rng.IntN(len(points))]))
	d2 := make([]float64, len(points))
	for len(centroids) < km.K {
		total := 0.0
		for i, p := range points {
			_, d := nearest(centroids, p)
			d2[i] = d * d
			total += d2[i]
		}
		if total == 0 {
			centroids = append(centroids, clone(points[rng.IntN(len(points))]))
			continue
		}
		r := rng.Float64() * total
		pick := len(points) - 1
		for i, w := range d2 {
			r -= w
			if r < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func nearest(centroids [][]float64, p []float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := floats.Distance(ctr, p, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func clone(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}

// ClusterPoint is one tick placed in (mid, bidVolume) space.
type ClusterPoint struct {
	Timestamp string  `json:"timestamp"`
	Mid       float64 `json:"mid"`
	BidVolume float64 `json:"bidVolume"`
	Cluster   int     `json:"cluster"`
}

// TickClusters is the clustering of one instrument's ticks.
type TickClusters struct {
	Instrument string         `json:"instrument"`
	Centroids  [][]float64    `json:"centroids"`
	Inertia    float64        `json:"inertia"`
	Points     []ClusterPoint `json:"points"`
}

// ClusterTicks clusters an instrument's ticks on (mid price, bid volume).
func ClusterTicks(d market.Dataset, instrument string, km KMeans) (TickClusters, error) {
	ticks := d.Filter(func(t market.Tick) bool { return t.Instrument == instrument }).Ticks
	pts := make([][]float64, len(ticks))
	for i, t := range ticks {
		pts[i] = []float64{t.Mid(), t.BidVolume}
	}
	c, err := km.Fit(pts)
	if err != nil {
		return TickClusters{}, fmt.Errorf("cluster %s: %w", instrument, err)
	}
	out := TickClusters{Instrument: instrument, Centroids: c.Centroids, Inertia: c.Inertia, Points: make([]ClusterPoint, len(ticks))}
	for i, t := range ticks {
		out.Points[i] = ClusterPoint{
			Timestamp: t.Timestamp.Format("2006-01-02 15:04:05"),
			Mid:       pts[i][0],
			BidVolume: pts[i][1],
			Cluster:   c.Labels[i],
		}
	}
	return out, nil
}
