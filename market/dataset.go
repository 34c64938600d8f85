package market

import (
	"errors"
	"fmt"
	"sort"
)

// Dataset is an ordered sequence of ticks. The zero value is the explicit "no data" dataset.
type Dataset struct {
	Ticks []Tick
}

// Group is a contiguous view of one (period, instrument) series inside a dataset.
type Group struct {
	Key   GroupKey
	Ticks []Tick
}

func (d Dataset) Len() int { return len(d.Ticks) }

// Empty reports whether the dataset holds no records.
func (d Dataset) Empty() bool { return len(d.Ticks) == 0 }

// Append adds ticks to the end of the dataset.
func (d *Dataset) Append(ticks ...Tick) {
	d.Ticks = append(d.Ticks, ticks...)
}

// Groups splits the dataset by (period, instrument) in order of first appearance.
// Input order is kept inside each group; nothing is re-sorted.
func (d Dataset) Groups() []Group {
	if len(d.Ticks) == 0 {
		return nil
	}
	index := make(map[GroupKey]int)
	var groups []Group
	for _, t := range d.Ticks {
		k := t.Key()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Ticks = append(groups[i].Ticks, t)
	}
	return groups
}

// Instruments returns the distinct instruments in order of first appearance.
func (d Dataset) Instruments() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range d.Ticks {
		if _, ok := seen[t.Instrument]; ok {
			continue
		}
		seen[t.Instrument] = struct{}{}
		out = append(out, t.Instrument)
	}
	return out
}

// Filter returns the ticks for which keep returns true.
func (d Dataset) Filter(keep func(Tick) bool) Dataset {
	var out Dataset
	for _, t := range d.Ticks {
		if keep(t) {
			out.Ticks = append(out.Ticks, t)
		}
	}
	return out
}

// SortByTime stable-sorts ticks by timestamp. Callers use it on a single group.
func SortByTime(ticks []Tick) {
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Timestamp.Before(ticks[j].Timestamp)
	})
}

var ErrUnsorted = errors.New("ticks not sorted by timestamp")

// Validate checks the normalized-dataset invariant: no zero timestamps and
// non-decreasing timestamps inside every group.
func (d Dataset) Validate() error {
	last := make(map[GroupKey]Tick)
	for i, t := range d.Ticks {
		if t.Timestamp.IsZero() {
			return fmt.Errorf("tick %d (%s): zero timestamp", i, t.Key())
		}
		k := t.Key()
		if prev, ok := last[k]; ok && t.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("tick %d (%s): %w", i, k, ErrUnsorted)
		}
		last[k] = t
	}
	return nil
}
