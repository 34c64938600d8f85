// Package report 把一次运行的结果落盘：summary.json、若干 CSV，以及可选的 xlsx 工作簿。
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"microstructure-lab/internal/pipeline"
	"microstructure-lab/market"
)

const (
	SummaryFile  = "summary.json"
	TicksFile    = "ticks.csv"
	FeaturesFile = "features.csv"
	FoldsFile    = "folds.csv"
	WorkbookFile = "report.xlsx"

	timeLayout = "2006-01-02 15:04:05.999999999"
)

// Writer writes run artifacts into one directory.
type Writer struct {
	dir  string
	xlsx bool
	log  *zap.Logger
}

type Option func(*Writer)

// WithWorkbook also writes report.xlsx.
func WithWorkbook(on bool) Option { return func(w *Writer) { w.xlsx = on } }

func WithLogger(l *zap.Logger) Option { return func(w *Writer) { w.log = l } }

func New(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) Dir() string { return w.dir }

// Write persists rep and returns the paths written. The summary is always
// written; data files only when the run produced the data.
func (w *Writer) Write(rep *pipeline.Report) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("report dir: %w", err)
	}
	var written []string
	add := func(name string, fn func(string) error) error {
		path := filepath.Join(w.dir, name)
		if err := fn(path); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	if err := add(SummaryFile, func(p string) error { return writeJSON(p, rep) }); err != nil {
		return written, err
	}
	if !rep.Ticks.Empty() {
		if err := add(TicksFile, func(p string) error { return writeCSV(p, tickHeader, tickRecords(rep.Ticks)) }); err != nil {
			return written, err
		}
	}
	if len(rep.Rows) > 0 {
		header, records := featureTable(rep)
		if err := add(FeaturesFile, func(p string) error { return writeCSV(p, header, records) }); err != nil {
			return written, err
		}
	}
	if len(rep.Evaluation.Folds) > 0 {
		if err := add(FoldsFile, func(p string) error { return writeCSV(p, foldHeader, foldRecords(rep)) }); err != nil {
			return written, err
		}
	}
	if w.xlsx {
		if err := add(WorkbookFile, func(p string) error { return writeWorkbook(p, rep) }); err != nil {
			return written, err
		}
	}
	w.log.Info("report written", zap.String("run_id", rep.RunID), zap.String("dir", w.dir), zap.Int("files", len(written)))
	return written, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var tickHeader = []string{"timestamp", "period", "instrument", "bidVolume", "bidPrice", "askVolume", "askPrice", "midPrice"}

func tickRecords(d market.Dataset) [][]string {
	out := make([][]string, len(d.Ticks))
	for i, t := range d.Ticks {
		out[i] = []string{
			formatTime(t.Timestamp), t.Period, t.Instrument,
			num(t.BidVolume), num(t.BidPrice), num(t.AskVolume), num(t.AskPrice), num(t.Mid()),
		}
	}
	return out
}

// featureTable 列顺序与分类器输入一致，末尾追加标签、预测与可选 z-score。
func featureTable(rep *pipeline.Report) ([]string, [][]string) {
	header := []string{"timestamp", "period", "instrument", "midPrice"}
	header = append(header, market.FeatureNames(rep.Windows)...)
	header = append(header, "sharp_change")
	preds := rep.Evaluation.Predictions
	withPred := len(preds) == len(rep.Rows)
	if withPred {
		header = append(header, "predicted_sharp_change")
	}
	zscore := rep.LabelMode == "zscore"
	if zscore {
		header = append(header, "z_score")
	}

	out := make([][]string, len(rep.Rows))
	for i, r := range rep.Rows {
		rec := []string{formatTime(r.Timestamp), r.Period, r.Instrument, num(r.MidPrice)}
		for _, v := range r.Vector() {
			rec = append(rec, num(v))
		}
		rec = append(rec, strconv.Itoa(r.SharpChange))
		if withPred {
			rec = append(rec, strconv.Itoa(preds[i]))
		}
		if zscore {
			rec = append(rec, num(r.ZScore))
		}
		out[i] = rec
	}
	return header, out
}

var foldHeader = []string{"fold", "train", "test", "accuracy"}

func foldRecords(rep *pipeline.Report) [][]string {
	out := make([][]string, len(rep.Evaluation.Folds))
	for i, f := range rep.Evaluation.Folds {
		out[i] = []string{strconv.Itoa(f.Fold), strconv.Itoa(f.Train), strconv.Itoa(f.Test), num(f.Accuracy)}
	}
	return out
}

func formatTime(t time.Time) string { return t.Format(timeLayout) }

// num 输出最短的精确十进制表示，避免 1e-05 之类的科学计数法
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return decimal.NewFromFloat(v).String()
}
