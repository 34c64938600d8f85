package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"microstructure-lab/market"
)

// DropCounts tallies rows discarded during ingestion, by reason.
type DropCounts struct {
	Timestamp int // unparseable or empty timestamp
	Numeric   int // malformed, non-finite or out-of-range price/volume
	Shape     int // too few fields or a broken CSV record
}

func (d DropCounts) Total() int { return d.Timestamp + d.Numeric + d.Shape }

func (d *DropCounts) Add(o DropCounts) {
	d.Timestamp += o.Timestamp
	d.Numeric += o.Numeric
	d.Shape += o.Shape
}

// FileIssue records a file that was skipped.
type FileIssue struct {
	Path string
	Err  error
}

// LoadResult is the normalized tick sequence for one (period, instrument).
type LoadResult struct {
	Dataset market.Dataset
	Files   []string
	Issues  []FileIssue
	Dropped DropCounts
}

// Loader reads <root>/<period>/<instrument>/market_data*.csv.
type Loader struct {
	root         string
	registry     *Registry
	nestedPeriod bool
	strictSchema bool
	log          *zap.Logger
}

type LoaderOption func(*Loader)

// WithNestedPeriod reads the <root>/<period>/<period>/<instrument> layout.
func WithNestedPeriod(nested bool) LoaderOption {
	return func(l *Loader) { l.nestedPeriod = nested }
}

// WithStrictSchema makes a schema mismatch fail the load instead of skipping the file.
func WithStrictSchema(strict bool) LoaderOption {
	return func(l *Loader) { l.strictSchema = strict }
}

func WithLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLoader creates a loader. A nil registry means DefaultRegistry.
func NewLoader(root string, reg *Registry, opts ...LoaderOption) *Loader {
	if reg == nil {
		reg = DefaultRegistry()
	}
	l := &Loader{root: root, registry: reg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Root() string { return l.root }

// Dir returns the directory holding files for (period, instrument).
func (l *Loader) Dir(period, instrument string) string {
	if l.nestedPeriod {
		return filepath.Join(l.root, period, period, instrument)
	}
	return filepath.Join(l.root, period, instrument)
}

// Load returns the ticks of every recognized file for (period, instrument),
// concatenated in natural filename order and stable-sorted by timestamp.
// A missing directory yields an empty result and no error.
func (l *Loader) Load(period, instrument string) (LoadResult, error) {
	var res LoadResult
	dir := l.Dir(period, instrument)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	SortNatural(names)

	var ticks []market.Tick
	for _, name := range names {
		format, ok := l.registry.Lookup(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		fileTicks, dropped, err := l.readFile(path, format, period, instrument)
		res.Dropped.Add(dropped)
		if err != nil {
			var schemaErr *SchemaError
			if l.strictSchema && errors.As(err, &schemaErr) {
				return res, err
			}
			l.log.Warn("skip file",
				zap.String("event", "file_skipped"),
				zap.String("file", path),
				zap.String("format", format.Name),
				zap.String("error", err.Error()))
			res.Issues = append(res.Issues, FileIssue{Path: path, Err: err})
			continue
		}
		res.Files = append(res.Files, path)
		ticks = append(ticks, fileTicks...)
	}

	market.SortByTime(ticks)
	res.Dataset = market.Dataset{Ticks: ticks}
	return res, nil
}

func (l *Loader) readFile(path string, format Format, period, instrument string) ([]market.Tick, DropCounts, error) {
	var dropped DropCounts
	f, err := os.Open(path)
	if err != nil {
		return nil, dropped, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	var idx map[string]int
	if format.Headerless {
		idx = fixedIndex(format.Columns)
	} else {
		header, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil, dropped, fmt.Errorf("%s: %w", path, ErrEmptyFile)
		}
		if err != nil {
			return nil, dropped, fmt.Errorf("%s: read header: %w", path, err)
		}
		idx, err = columnIndex(path, append([]string(nil), header...))
		if err != nil {
			return nil, dropped, err
		}
	}
	width := 0
	for _, i := range idx {
		if i+1 > width {
			width = i + 1
		}
	}

	var ticks []market.Tick
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				dropped.Shape++
				continue
			}
			return nil, dropped, fmt.Errorf("%s: %w", path, err)
		}
		if len(rec) < width {
			dropped.Shape++
			continue
		}
		ts, ok := ParseTimestamp(rec[idx[ColTimestamp]])
		if !ok {
			dropped.Timestamp++
			continue
		}
		t := market.Tick{Timestamp: ts, Instrument: instrument, Period: period}
		if !parseTickFields(rec, idx, &t) {
			dropped.Numeric++
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, dropped, nil
}

// parseTickFields fills prices and volumes. Prices must be positive and
// volumes non-negative; NaN/Inf spellings are rejected by decimal parsing.
func parseTickFields(rec []string, idx map[string]int, t *market.Tick) bool {
	var ok bool
	if t.BidVolume, ok = parseNumber(rec[idx[ColBidVolume]]); !ok || t.BidVolume < 0 {
		return false
	}
	if t.BidPrice, ok = parseNumber(rec[idx[ColBidPrice]]); !ok || t.BidPrice <= 0 {
		return false
	}
	if t.AskVolume, ok = parseNumber(rec[idx[ColAskVolume]]); !ok || t.AskVolume < 0 {
		return false
	}
	if t.AskPrice, ok = parseNumber(rec[idx[ColAskPrice]]); !ok || t.AskPrice <= 0 {
		return false
	}
	return true
}

func parseNumber(raw string) (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
