package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 加载指标
	filesLoaded  prometheus.Counter
	filesSkipped prometheus.Counter
	rowsLoaded   prometheus.Counter
	rowsDropped  *prometheus.CounterVec

	// 特征与标签
	featureRows    prometheus.Gauge
	positiveLabels prometheus.Gauge
	syntheticRows  prometheus.Gauge

	// 评估指标
	foldAccuracy     *prometheus.GaugeVec
	meanAccuracy     prometheus.Gauge
	baselineAccuracy prometheus.Gauge

	// 运行指标
	stageDuration *prometheus.HistogramVec
	runDuration   prometheus.Histogram
	runs          *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "lab",
		Subsystem: "pipeline",
	}
}

// New 创建新的Monitor实例，使用私有 registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	return &Monitor{
		registry: reg,

		filesLoaded:  factory.NewCounter(prometheus.CounterOpts(opts("files_loaded_total", "已加载的数据文件数"))),
		filesSkipped: factory.NewCounter(prometheus.CounterOpts(opts("files_skipped_total", "因 schema 不匹配等原因跳过的文件数"))),
		rowsLoaded:   factory.NewCounter(prometheus.CounterOpts(opts("rows_loaded_total", "归一化后保留的行数"))),
		rowsDropped: factory.NewCounterVec(prometheus.CounterOpts(opts("rows_dropped_total", "被丢弃的行数")),
			[]string{"reason"}),

		featureRows:    factory.NewGauge(prometheus.GaugeOpts(opts("feature_rows", "最近一次运行的特征行数"))),
		positiveLabels: factory.NewGauge(prometheus.GaugeOpts(opts("positive_labels", "最近一次运行的 sharp_change=1 行数"))),
		syntheticRows:  factory.NewGauge(prometheus.GaugeOpts(opts("synthetic_rows", "SMOTE 生成的合成行数"))),

		foldAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts(opts("fold_accuracy", "每折准确率")),
			[]string{"fold"}),
		meanAccuracy:     factory.NewGauge(prometheus.GaugeOpts(opts("mean_accuracy", "交叉验证平均准确率"))),
		baselineAccuracy: factory.NewGauge(prometheus.GaugeOpts(opts("baseline_accuracy", "多数类基线准确率"))),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stage_duration_seconds",
			Help:      "各阶段耗时（秒）",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "整次运行耗时（秒）",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 120, 600},
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts(opts("runs_total", "运行次数，按结果")),
			[]string{"status"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts(opts("last_run_timestamp_seconds", "最近一次运行结束时间"))),
	}
}

func (m *Monitor) RecordFiles(loaded, skipped int) {
	m.filesLoaded.Add(float64(loaded))
	m.filesSkipped.Add(float64(skipped))
}

func (m *Monitor) RecordRows(loaded int) {
	m.rowsLoaded.Add(float64(loaded))
}

// RecordDropped 按原因累计丢弃行
func (m *Monitor) RecordDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.rowsDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Monitor) UpdateFeatureRows(n, positives int) {
	m.featureRows.Set(float64(n))
	m.positiveLabels.Set(float64(positives))
}

func (m *Monitor) UpdateSynthetic(n int) {
	m.syntheticRows.Set(float64(n))
}

func (m *Monitor) RecordFold(fold int, accuracy float64) {
	m.foldAccuracy.WithLabelValues(strconv.Itoa(fold)).Set(accuracy)
}

func (m *Monitor) UpdateAccuracy(mean, baseline float64) {
	m.meanAccuracy.Set(mean)
	m.baselineAccuracy.Set(baseline)
}

func (m *Monitor) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun 记录一次运行的结果与耗时
func (m *Monitor) RecordRun(status string, d time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
	m.lastRun.SetToCurrentTime()
}

// Handler 返回 /metrics handler
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile 写出 node-exporter textfile collector 格式，供批处理运行使用
func (m *Monitor) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
