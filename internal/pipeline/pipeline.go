// Package pipeline 把加载、特征、标注、过采样与交叉验证串成一次批处理运行。
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"microstructure-lab/config"
	"microstructure-lab/infrastructure/alert"
	"microstructure-lab/infrastructure/logger"
	"microstructure-lab/infrastructure/monitor"
	"microstructure-lab/internal/balance"
	"microstructure-lab/internal/evaluate"
	"microstructure-lab/internal/features"
	"microstructure-lab/internal/ingest"
	"microstructure-lab/internal/model"
	"microstructure-lab/market"
)

type Status string

const (
	StatusOK     Status = "ok"
	StatusNoData Status = "no_data"
	StatusFailed Status = "failed"
)

// Issue is a skipped file, flattened for JSON.
type Issue struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report is the outcome of one run. Bulk data is excluded from JSON and
// written by the report package instead.
type Report struct {
	RunID      string    `json:"runId"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Root        string            `json:"root"`
	Periods     []string          `json:"periods"`
	Instruments []string          `json:"instruments"`
	Files       int               `json:"files"`
	Issues      []Issue           `json:"issues,omitempty"`
	Dropped     ingest.DropCounts `json:"dropped"`
	TickRows    int               `json:"tickRows"`

	WindowMode  string                `json:"windowMode"`
	Windows     []string              `json:"windows"`
	FeatureRows int                   `json:"featureRows"`
	ShortGroups []features.ShortGroup `json:"shortGroups,omitempty"`
	LabelMode   string                `json:"labelMode"`
	Positives   int                   `json:"positives"`

	BalancedRows int `json:"balancedRows"`
	Synthetic    int `json:"synthetic"`

	Evaluation evaluate.Result `json:"evaluation"`

	Ticks market.Dataset      `json:"-"`
	Rows  []market.LabeledRow `json:"-"`
}

// Outcome 提取告警规则关心的字段。
func (r *Report) Outcome() alert.Outcome {
	return alert.Outcome{
		RunID:            r.RunID,
		Status:           string(r.Status),
		Error:            r.Error,
		SkippedFiles:     len(r.Issues),
		FeatureRows:      r.FeatureRows,
		Positives:        r.Positives,
		OriginalAccuracy: r.Evaluation.OriginalAccuracy,
		Baseline:         r.Evaluation.Baseline,
	}
}

// Pipeline runs one configured batch. It holds no state between runs.
type Pipeline struct {
	cfg     config.AppConfig
	log     *logger.Logger
	mon     *monitor.Monitor
	factory model.Factory
}

type Option func(*Pipeline)

func WithLogger(l *logger.Logger) Option { return func(p *Pipeline) { p.log = l } }

func WithMonitor(m *monitor.Monitor) Option { return func(p *Pipeline) { p.mon = m } }

// WithFactory replaces the default gradient-boosting classifier.
func WithFactory(f model.Factory) Option { return func(p *Pipeline) { p.factory = f } }

// New validates cfg and builds a pipeline.
func New(cfg config.AppConfig, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}
	if p.mon == nil {
		p.mon = monitor.New(monitor.DefaultConfig())
	}
	if p.factory == nil {
		p.factory = model.NewFactory(cfg.Model)
	}
	if _, err := features.NewEngine(p.FeatureConfig()); err != nil {
		return nil, err
	}
	if err := p.Labeler().Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Config() config.AppConfig { return p.cfg }

func (p *Pipeline) Monitor() *monitor.Monitor { return p.mon }

// FeatureConfig maps the features section onto the engine config.
func (p *Pipeline) FeatureConfig() features.Config {
	return features.Config{
		Mode:      features.WindowMode(p.cfg.Features.Mode),
		Windows:   p.cfg.Features.Windows,
		Durations: p.cfg.Features.Durations,
		Source:    features.PriceSource(p.cfg.Features.PriceSource),
	}
}

// Labeler returns the sharp-change labeler described by the label section.
func (p *Pipeline) Labeler() features.Labeler {
	return features.Labeler{
		Mode:      features.LabelMode(p.cfg.Label.Mode),
		Threshold: p.cfg.Label.SharpThreshold,
		ZWindow:   p.cfg.Label.ZWindow,
		ZCutoff:   p.cfg.Label.ZCutoff,
	}
}

// NewLoader builds the loader described by the data config.
func (p *Pipeline) NewLoader(log *zap.Logger) *ingest.Loader {
	return ingest.NewLoader(p.cfg.Data.Root,
		ingest.NewRegistry(p.cfg.Data.Headerless),
		ingest.WithNestedPeriod(p.cfg.Data.NestedPeriod),
		ingest.WithStrictSchema(p.cfg.Data.StrictSchema),
		ingest.WithLogger(log))
}

// Run executes every stage in order. An empty input yields StatusNoData and a
// nil error. On failure the partial report is returned with a *StageError.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Root:        p.cfg.Data.Root,
		Instruments: p.cfg.Data.Instruments,
		WindowMode:  p.cfg.Features.Mode,
		LabelMode:   p.cfg.Label.Mode,
	}
	log := p.log.WithRun(rep.RunID)
	log.Info("run started", zap.String("root", p.cfg.Data.Root), zap.Strings("instruments", p.cfg.Data.Instruments))

	err := p.run(ctx, rep, log)
	rep.FinishedAt = time.Now().UTC()
	elapsed := rep.FinishedAt.Sub(rep.StartedAt)
	if err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		fields := map[string]interface{}{}
		var se *StageError
		if errors.As(err, &se) {
			fields["stage"] = se.Stage
			if se.Group != "" {
				fields["group"] = se.Group
			}
		}
		log.LogError(err, fields)
	}
	p.mon.RecordRun(string(rep.Status), elapsed)
	log.Info("run finished",
		zap.String("event", "run_done"),
		zap.String("stage", "done"),
		zap.String("status", string(rep.Status)),
		zap.Int("rows", rep.FeatureRows),
		zap.Float64("mean_accuracy", rep.Evaluation.MeanAccuracy),
		zap.Duration("elapsed", elapsed))
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, rep *Report, log *logger.Logger) error {
	// load
	start := time.Now()
	agg, err := ingest.NewAggregator(p.NewLoader(log.Logger)).Aggregate(p.cfg.Data.Instruments)
	if err != nil {
		return &StageError{Stage: StageLoad, Err: err}
	}
	rep.Periods = agg.Periods
	rep.Files = agg.Files
	rep.Dropped = agg.Dropped
	for _, is := range agg.Issues {
		rep.Issues = append(rep.Issues, Issue{Path: is.Path, Error: is.Err.Error()})
	}
	rep.Ticks = agg.Dataset
	rep.TickRows = agg.Dataset.Len()
	p.mon.RecordFiles(agg.Files, len(agg.Issues))
	p.mon.RecordRows(rep.TickRows)
	for _, d := range []struct {
		reason string
		n      int
	}{{"timestamp", agg.Dropped.Timestamp}, {"numeric", agg.Dropped.Numeric}, {"shape", agg.Dropped.Shape}} {
		p.mon.RecordDropped(d.reason, d.n)
		log.LogDrop(StageLoad, d.reason, d.n, nil)
	}
	p.stageDone(log, StageLoad, start, map[string]interface{}{
		"periods": len(agg.Periods), "groups": agg.Groups, "files": agg.Files, "rows": rep.TickRows,
	})
	if agg.Dataset.Empty() {
		rep.Status = StatusNoData
		return nil
	}
	if err := agg.Dataset.Validate(); err != nil {
		return &StageError{Stage: StageLoad, Err: err}
	}

	// features
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: StageFeatures, Err: err}
	}
	start = time.Now()
	engine, err := features.NewEngine(p.FeatureConfig())
	if err != nil {
		return &StageError{Stage: StageFeatures, Err: err}
	}
	fr, err := engine.Generate(agg.Dataset)
	rep.Windows = fr.Windows
	rep.ShortGroups = fr.Short
	if err != nil {
		se := &StageError{Stage: StageFeatures, Err: err}
		var ide *features.InsufficientDataError
		if errors.As(err, &ide) {
			se.Group = ide.Group.String()
		}
		return se
	}
	for _, sg := range fr.Short {
		log.LogDrop(StageFeatures, "short_group", sg.Rows, map[string]interface{}{"group": sg.Key.String()})
	}
	p.stageDone(log, StageFeatures, start, map[string]interface{}{"rows": len(fr.Rows), "short_groups": len(fr.Short)})

	// label
	start = time.Now()
	rows, err := p.Labeler().Label(fr.Rows)
	if err != nil {
		return &StageError{Stage: StageLabel, Err: err}
	}
	if len(rows) == 0 {
		return &StageError{Stage: StageLabel, Err: features.ErrInsufficientData}
	}
	log.LogDrop(StageLabel, "no_history", len(fr.Rows)-len(rows), nil)
	rep.Rows = rows
	rep.FeatureRows = len(rows)
	rep.Positives = features.Positives(rows)
	p.mon.UpdateFeatureRows(rep.FeatureRows, rep.Positives)
	p.stageDone(log, StageLabel, start, map[string]interface{}{"rows": len(rows), "positives": rep.Positives})

	// balance
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: StageBalance, Err: err}
	}
	start = time.Now()
	x, y := market.Matrix(rows)
	bal, err := balance.NewSMOTE(balance.Config{K: p.cfg.Balance.K, Seed: p.cfg.Eval.Seed}).FitResample(x, y)
	if err != nil {
		return &StageError{Stage: StageBalance, Err: err}
	}
	rep.BalancedRows = len(bal.Y)
	rep.Synthetic = bal.Synthetic
	p.mon.UpdateSynthetic(bal.Synthetic)
	p.stageDone(log, StageBalance, start, map[string]interface{}{"rows": len(bal.Y), "synthetic": bal.Synthetic})

	// evaluate
	start = time.Now()
	kf := evaluate.StratifiedKFold{K: p.cfg.Eval.KFolds, Shuffle: !p.cfg.Eval.DisableShuffle, Seed: p.cfg.Eval.Seed}
	ev := evaluate.New(p.factory, kf)
	ev.OnFold(func(fs evaluate.FoldScore) {
		p.mon.RecordFold(fs.Fold, fs.Accuracy)
		log.Debug("fold scored", zap.Int("fold", fs.Fold), zap.Float64("accuracy", fs.Accuracy))
	})
	res, err := ev.Evaluate(ctx, bal.X, bal.Y, x, y)
	if err != nil {
		return &StageError{Stage: StageEvaluate, Err: err}
	}
	rep.Evaluation = res
	p.mon.UpdateAccuracy(res.MeanAccuracy, res.Baseline)
	p.stageDone(log, StageEvaluate, start, map[string]interface{}{
		"folds": len(res.Folds), "mean_accuracy": res.MeanAccuracy, "baseline": res.Baseline,
	})
	rep.Status = StatusOK
	return nil
}

func (p *Pipeline) stageDone(log *logger.Logger, stage string, start time.Time, fields map[string]interface{}) {
	d := time.Since(start)
	p.mon.ObserveStage(stage, d)
	fields["elapsed_ms"] = d.Milliseconds()
	log.LogStage(stage, fields)
}
