// Package balance 对标注数据做少数类过采样（SMOTE）。
package balance

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

var (
	ErrSingleClass          = errors.New("balance: need two classes")
	ErrInsufficientMinority = errors.New("balance: too few minority samples")
	ErrShape                = errors.New("balance: ragged or mismatched input")
)

// InsufficientMinorityError reports a minority class too small for K neighbours.
type InsufficientMinorityError struct {
	Class int
	Have  int
	Need  int
}

func (e *InsufficientMinorityError) Error() string {
	return fmt.Sprintf("balance: class %d has %d samples, need at least %d", e.Class, e.Have, e.Need)
}

func (e *InsufficientMinorityError) Unwrap() error { return ErrInsufficientMinority }

type Config struct {
	K    int
	Seed uint64
}

func DefaultConfig() Config {
	return Config{K: 5, Seed: 42}
}

// Result is the balanced dataset. The first len(input) rows are copies of the
// input in order, synthetic rows follow.
type Result struct {
	X         [][]float64
	Y         []int
	Synthetic int
	Minority  int
	Majority  int
}

// SMOTE oversamples the minority class by interpolating towards nearest minority neighbours.
type SMOTE struct {
	cfg Config
}

func NewSMOTE(cfg Config) *SMOTE {
	if cfg.K <= 0 {
		cfg.K = DefaultConfig().K
	}
	return &SMOTE{cfg: cfg}
}

// FitResample returns a dataset with equal class counts. x and y are not modified.
func (s *SMOTE) FitResample(x [][]float64, y []int) (Result, error) {
	var res Result
	if len(x) != len(y) {
		return res, fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(x), len(y))
	}
	dims := -1
	counts := make(map[int]int)
	for i, row := range x {
		if dims == -1 {
			dims = len(row)
		}
		if len(row) != dims || dims == 0 {
			return res, fmt.Errorf("%w: row %d has %d values", ErrShape, i, len(row))
		}
		counts[y[i]]++
	}
	if len(counts) != 2 {
		return res, fmt.Errorf("%w: found %d", ErrSingleClass, len(counts))
	}

	minority, majority := minorityMajority(counts)
	res.Minority, res.Majority = counts[minority], counts[majority]
	if res.Minority <= s.cfg.K {
		return res, &InsufficientMinorityError{Class: minority, Have: res.Minority, Need: s.cfg.K + 1}
	}

	need := res.Majority - res.Minority
	res.X = make([][]float64, 0, len(x)+need)
	res.Y = make([]int, 0, len(y)+need)
	for i, row := range x {
		res.X = append(res.X, append([]float64(nil), row...))
		res.Y = append(res.Y, y[i])
	}
	if need == 0 {
		return res, nil
	}

	var samples [][]float64
	for i, row := range res.X[:len(x)] {
		if y[i] == minority {
			samples = append(samples, row)
		}
	}
	neighbours := nearestNeighbours(samples, s.cfg.K)

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed))
	for n := 0; n < need; n++ {
		i := rng.IntN(len(samples))
		j := neighbours[i][rng.IntN(len(neighbours[i]))]
		gap := rng.Float64()
		base, other := samples[i], samples[j]
		syn := make([]float64, dims)
		for d := range syn {
			syn[d] = base[d] + gap*(other[d]-base[d])
		}
		res.X = append(res.X, syn)
		res.Y = append(res.Y, minority)
	}
	res.Synthetic = need
	return res, nil
}

// minorityMajority 计数相同时取较小的标签为少数类。
func minorityMajority(counts map[int]int) (int, int) {
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	a, b := labels[0], labels[1]
	if counts[b] < counts[a] {
		return b, a
	}
	return a, b
}

// nearestNeighbours returns, for every sample, the indices of its k nearest
// other samples ordered by distance then index.
func nearestNeighbours(samples [][]float64, k int) [][]int {
	pts := make(kdtree.Points, len(samples))
	index := make(map[*float64]int, len(samples))
	for i, s := range samples {
		p := append(kdtree.Point(nil), s...)
		pts[i] = p
		index[&p[0]] = i
	}
	// kdtree.New reorders pts in place, the map keeps original indices.
	tree := kdtree.New(pts, false)

	out := make([][]int, len(samples))
	for i, s := range samples {
		keep := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keep, kdtree.Point(s))

		type cand struct {
			idx  int
			dist float64
		}
		var cands []cand
		for _, cd := range keep.Heap {
			if cd.Comparable == nil {
				continue
			}
			p := cd.Comparable.(kdtree.Point)
			j := index[&p[0]]
			if j == i {
				continue
			}
			cands = append(cands, cand{idx: j, dist: cd.Dist})
		}
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].dist != cands[b].dist {
				return cands[a].dist < cands[b].dist
			}
			return cands[a].idx < cands[b].idx
		})
		if len(cands) > k {
			cands = cands[:k]
		}
		ids := make([]int, len(cands))
		for c := range cands {
			ids[c] = cands[c].idx
		}
		out[i] = ids
	}
	return out
}
