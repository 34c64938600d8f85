package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"microstructure-lab/market"
)

// AggregateResult is the combined dataset across periods and instruments.
type AggregateResult struct {
	Dataset market.Dataset
	Periods []string
	Groups  int
	Files   int
	Issues  []FileIssue
	Dropped DropCounts
}

// Aggregator walks every period under the loader root.
type Aggregator struct {
	loader *Loader
	log    *zap.Logger
}

func NewAggregator(loader *Loader) *Aggregator {
	return &Aggregator{loader: loader, log: loader.log}
}

// Periods lists period directories under the root in natural order. Hidden
// entries and plain files are skipped; a missing root yields no periods.
func (a *Aggregator) Periods() ([]string, error) {
	entries, err := os.ReadDir(a.loader.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read root %s: %w", a.loader.Root(), err)
	}
	var periods []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		periods = append(periods, e.Name())
	}
	SortNatural(periods)
	return periods, nil
}

// Aggregate loads every (period, instrument) pair and concatenates the results,
// periods in natural order and instruments in the order given. Pairs without
// data are absent; zero records overall yield an empty dataset, not an error.
func (a *Aggregator) Aggregate(instruments []string) (AggregateResult, error) {
	var res AggregateResult
	periods, err := a.Periods()
	if err != nil {
		return res, err
	}
	res.Periods = periods
	for _, period := range periods {
		for _, instrument := range instruments {
			lr, err := a.loader.Load(period, instrument)
			if err != nil {
				return res, fmt.Errorf("load %s/%s: %w", period, instrument, err)
			}
			res.Files += len(lr.Files)
			res.Issues = append(res.Issues, lr.Issues...)
			res.Dropped.Add(lr.Dropped)
			if lr.Dataset.Empty() {
				continue
			}
			res.Groups++
			res.Dataset.Append(lr.Dataset.Ticks...)
			a.log.Debug("group loaded",
				zap.String("period", period),
				zap.String("instrument", instrument),
				zap.Int("rows", lr.Dataset.Len()),
				zap.Int("dropped", lr.Dropped.Total()))
		}
	}
	return res, nil
}
