package features

import (
	"errors"
	"fmt"
	"time"

	"microstructure-lab/market"
)

// WindowMode selects how rolling windows are measured.
type WindowMode string

const (
	// WindowCount measures windows in rows.
	WindowCount WindowMode = "count"
	// WindowTime measures windows as a trailing duration.
	WindowTime WindowMode = "time"
)

// PriceSource selects the price fed into the rolling windows.
type PriceSource string

const (
	SourceMid PriceSource = "mid"
	SourceBid PriceSource = "bid"
)

// Config 特征引擎参数。Source 为空时按 mid 计算。
type Config struct {
	Mode      WindowMode
	Windows   []int           // row counts, count mode
	Durations []time.Duration // trailing durations, time mode
	Source    PriceSource
}

func DefaultConfig() Config {
	return Config{
		Mode:      WindowCount,
		Windows:   []int{30, 60},
		Durations: []time.Duration{30 * time.Second, 60 * time.Second},
	}
}

var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports that no group had enough history for every feature.
type InsufficientDataError struct {
	Group market.GroupKey
	Rows  int
	Need  string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("group %s has %d rows, need %s", e.Group, e.Rows, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// ShortGroup is a group that produced no feature rows.
type ShortGroup struct {
	Key  market.GroupKey
	Rows int
}

// Result holds fully defined feature rows in input order.
type Result struct {
	Rows    []market.FeatureRow
	Windows []string
	Short   []ShortGroup
	Input   int
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	switch cfg.Mode {
	case WindowCount:
		if len(cfg.Windows) == 0 {
			return nil, errors.New("features: count mode needs at least one window")
		}
		for _, w := range cfg.Windows {
			if w < 2 {
				return nil, fmt.Errorf("features: window %d too small for a sample std", w)
			}
		}
	case WindowTime:
		if len(cfg.Durations) == 0 {
			return nil, errors.New("features: time mode needs at least one duration")
		}
		for _, d := range cfg.Durations {
			if d <= 0 {
				return nil, fmt.Errorf("features: duration %s must be positive", d)
			}
		}
	default:
		return nil, fmt.Errorf("features: unknown window mode %q", cfg.Mode)
	}
	switch cfg.Source {
	case "":
		cfg.Source = SourceMid
	case SourceMid, SourceBid:
	default:
		return nil, fmt.Errorf("features: unknown price source %q", cfg.Source)
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// WindowLabels names the configured windows ("30", "60" or "30s", "60s").
func (e *Engine) WindowLabels() []string {
	ws := e.newWindows()
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Label()
	}
	return out
}

// Generate derives mid, rolling stats and momentum for every (period,
// instrument) group independently. Each window covers the current row and the
// rows before it; a row is emitted only once its group has enough prior rows. Windows and momentum never reach across a
// group boundary, and rows lacking any feature are dropped.
func (e *Engine) Generate(d market.Dataset) (Result, error) {
	res := Result{Windows: e.WindowLabels(), Input: d.Len()}
	groups := d.Groups()
	if len(groups) == 0 {
		return res, fmt.Errorf("features: empty dataset: %w", ErrInsufficientData)
	}

	var largest market.Group
	for _, g := range groups {
		rows := e.generateGroup(g.Ticks)
		if len(rows) == 0 {
			res.Short = append(res.Short, ShortGroup{Key: g.Key, Rows: len(g.Ticks)})
			if len(g.Ticks) > len(largest.Ticks) {
				largest = g
			}
			continue
		}
		res.Rows = append(res.Rows, rows...)
	}
	if len(res.Rows) == 0 {
		return res, &InsufficientDataError{Group: largest.Key, Rows: len(largest.Ticks), Need: e.need()}
	}
	return res, nil
}

func (e *Engine) generateGroup(ticks []market.Tick) []market.FeatureRow {
	windows := e.newWindows()
	labels := make([]string, len(windows))
	for i, w := range windows {
		labels[i] = w.Label()
	}

	var (
		out     []market.FeatureRow
		prevMid float64
		hasPrev bool
	)
	for _, t := range ticks {
		mid := t.Mid()
		price := mid
		if e.cfg.Source == SourceBid {
			price = t.BidPrice
		}
		ready := hasPrev && prevMid != 0
		for _, w := range windows {
			w.Add(price, t.Timestamp)
			if !w.Ready() {
				ready = false
			}
		}
		if ready {
			row := market.FeatureRow{
				Tick:     t,
				MidPrice: mid,
				Windows:  make([]market.WindowStat, len(windows)),
				Momentum: (mid - prevMid) / prevMid,
			}
			for i, w := range windows {
				mean, std := w.Stats()
				row.Windows[i] = market.WindowStat{Size: labels[i], Mean: mean, Std: std}
			}
			out = append(out, row)
		}
		prevMid, hasPrev = mid, true
	}
	return out
}

func (e *Engine) newWindows() []market.RollingWindow {
	if e.cfg.Mode == WindowTime {
		ws := make([]market.RollingWindow, len(e.cfg.Durations))
		for i, d := range e.cfg.Durations {
			ws[i] = market.NewTimeWindow(d)
		}
		return ws
	}
	ws := make([]market.RollingWindow, len(e.cfg.Windows))
	for i, n := range e.cfg.Windows {
		ws[i] = market.NewCountWindow(n)
	}
	return ws
}

func (e *Engine) need() string {
	if e.cfg.Mode == WindowTime {
		var longest time.Duration
		for _, d := range e.cfg.Durations {
			if d > longest {
				longest = d
			}
		}
		return fmt.Sprintf("history spanning %s", longest)
	}
	longest := 0
	for _, w := range e.cfg.Windows {
		if w > longest {
			longest = w
		}
	}
	return fmt.Sprintf("more than %d rows", longest)
}
