package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Canonical tick columns, also the fixed order of headerless files.
const (
	ColBidVolume = "bidVolume"
	ColBidPrice  = "bidPrice"
	ColAskVolume = "askVolume"
	ColAskPrice  = "askPrice"
	ColTimestamp = "timestamp"
)

// CanonicalColumns is the column order injected into headerless files.
var CanonicalColumns = []string{ColBidVolume, ColBidPrice, ColAskVolume, ColAskPrice, ColTimestamp}

// DefaultHeaderless lists the legacy files that ship without a header row.
var DefaultHeaderless = []string{"market_data_A_1.csv"}

const dataFilePrefix = "market_data"

// Format describes how one family of files is read.
type Format struct {
	Name       string
	Match      func(filename string) bool
	Headerless bool
	// Columns is the fixed column order for headerless formats.
	Columns []string
}

// Registry resolves a filename to its format. The first registered match wins.
type Registry struct {
	formats []Format
}

// NewRegistry builds the standard registry: exact-name headerless legacy files
// first, then any header-bearing market_data*.csv.
func NewRegistry(headerless []string) *Registry {
	r := &Registry{}
	exact := make(map[string]struct{}, len(headerless))
	for _, name := range headerless {
		exact[name] = struct{}{}
	}
	r.Register(Format{
		Name: "legacy-headerless",
		Match: func(name string) bool {
			_, ok := exact[name]
			return ok
		},
		Headerless: true,
		Columns:    CanonicalColumns,
	})
	r.Register(Format{
		Name: "market-data",
		Match: func(name string) bool {
			return strings.HasPrefix(name, dataFilePrefix) && strings.HasSuffix(strings.ToLower(name), ".csv")
		},
	})
	return r
}

// DefaultRegistry uses DefaultHeaderless.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultHeaderless)
}

func (r *Registry) Register(f Format) {
	r.formats = append(r.formats, f)
}

// Lookup returns the format for filename; ok is false for unrecognized files,
// which the loader ignores.
func (r *Registry) Lookup(filename string) (Format, bool) {
	for _, f := range r.formats {
		if f.Match(filename) {
			return f, true
		}
	}
	return Format{}, false
}

var (
	ErrSchema    = errors.New("schema mismatch")
	ErrEmptyFile = errors.New("empty file")
)

// SchemaError reports a header that lacks required columns.
type SchemaError struct {
	File    string
	Missing []string
	Header  []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns %s (header %s)", e.File, strings.Join(e.Missing, ","), strings.Join(e.Header, ","))
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// columnIndex maps canonical columns to positions in header. Matching is
// case-insensitive and ignores surrounding whitespace and a UTF-8 BOM.
func columnIndex(file string, header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}
	idx := make(map[string]int, len(CanonicalColumns))
	var missing []string
	for _, col := range CanonicalColumns {
		i, ok := pos[strings.ToLower(col)]
		if !ok {
			missing = append(missing, col)
			continue
		}
		idx[col] = i
	}
	if len(missing) > 0 {
		return nil, &SchemaError{File: file, Missing: missing, Header: header}
	}
	return idx, nil
}

func fixedIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return idx
}
