// Package evaluate 分层 k 折交叉验证。
package evaluate

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

var ErrEmptyDataset = errors.New("evaluate: empty dataset")

// StratumError reports a class with fewer members than folds.
type StratumError struct {
	Class int
	Count int
	K     int
}

func (e *StratumError) Error() string {
	return fmt.Sprintf("evaluate: class %d has %d members, fewer than %d folds", e.Class, e.Count, e.K)
}

// Fold is one train/test partition expressed as row indices in ascending order.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold deals every class round-robin across K folds so each fold
// keeps the class proportions.
type StratifiedKFold struct {
	K       int
	Shuffle bool
	Seed    uint64
}

func DefaultKFold() StratifiedKFold {
	return StratifiedKFold{K: 5, Shuffle: true, Seed: 42}
}

// Split assigns every index of y to exactly one test fold.
func (s StratifiedKFold) Split(y []int) ([]Fold, error) {
	if s.K < 2 {
		return nil, fmt.Errorf("evaluate: k=%d, need at least 2 folds", s.K)
	}
	if len(y) == 0 {
		return nil, ErrEmptyDataset
	}
	byClass := make(map[int][]int)
	for i, l := range y {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	for _, c := range classes {
		if n := len(byClass[c]); n < s.K {
			return nil, &StratumError{Class: c, Count: n, K: s.K}
		}
	}

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed))
	assign := make([]int, len(y))
	offset := 0
	for _, c := range classes {
		members := append([]int(nil), byClass[c]...)
		if s.Shuffle {
			rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		}
		// 各类从上一类结束的位置继续发牌，折大小更均匀
		for i, idx := range members {
			assign[idx] = (offset + i) % s.K
		}
		offset = (offset + len(members)) % s.K
	}

	folds := make([]Fold, s.K)
	for idx, f := range assign {
		for k := range folds {
			if k == f {
				folds[k].Test = append(folds[k].Test, idx)
			} else {
				folds[k].Train = append(folds[k].Train, idx)
			}
		}
	}
	return folds, nil
}
