package alert

import "fmt"

// Rule names, also used as throttle keys.
const (
	RuleRunFailed     = "run_failed"
	RuleNoData        = "no_data"
	RuleFilesSkipped  = "files_skipped"
	RuleBelowBaseline = "below_baseline"
	RuleFewPositives  = "few_positives"
)

// Outcome is the slice of a run report the rules look at.
type Outcome struct {
	RunID            string
	Status           string // ok | no_data | failed
	Error            string
	SkippedFiles     int
	FeatureRows      int
	Positives        int
	OriginalAccuracy float64
	Baseline         float64
}

// Rules 告警阈值；零值关闭对应规则。
type Rules struct {
	// MinPositiveRate 正样本占比低于该值时告警
	MinPositiveRate float64 `yaml:"minPositiveRate" default:"0.001" validate:"gte=0,lte=1"`
	// BaselineMargin 全量预测准确率未超过多数类基线该幅度时告警
	BaselineMargin float64 `yaml:"baselineMargin" default:"0" validate:"gte=0"`
	IgnoreSkipped  bool    `yaml:"ignoreSkipped"`
}

// Evaluate returns the alerts o triggers, in rule order.
func (r Rules) Evaluate(o Outcome) []Alert {
	var out []Alert
	add := func(level, rule, msg string, fields map[string]interface{}) {
		out = append(out, Alert{Level: level, Rule: rule, Message: msg, RunID: o.RunID, Fields: fields})
	}

	switch o.Status {
	case "failed":
		add(LevelError, RuleRunFailed, "run failed", map[string]interface{}{"error": o.Error})
	case "no_data":
		add(LevelWarning, RuleNoData, "run found no data", nil)
	}
	if !r.IgnoreSkipped && o.SkippedFiles > 0 {
		add(LevelWarning, RuleFilesSkipped, fmt.Sprintf("%d files skipped", o.SkippedFiles),
			map[string]interface{}{"files": o.SkippedFiles})
	}
	if o.Status != "ok" {
		return out
	}
	if o.FeatureRows > 0 {
		rate := float64(o.Positives) / float64(o.FeatureRows)
		if rate < r.MinPositiveRate {
			add(LevelWarning, RuleFewPositives, "positive label rate below floor",
				map[string]interface{}{"rate": rate, "floor": r.MinPositiveRate})
		}
	}
	if o.OriginalAccuracy <= o.Baseline+r.BaselineMargin {
		add(LevelWarning, RuleBelowBaseline, "classifier does not beat majority baseline",
			map[string]interface{}{"accuracy": o.OriginalAccuracy, "baseline": o.Baseline})
	}
	return out
}
