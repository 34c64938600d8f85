package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level" default:"info" validate:"oneof=debug info warn error"` // debug, info, warn, error
	Outputs    []string `yaml:"outputs" default:"[\"stdout\"]"`                              // stdout, stderr, file
	OutputFile string   `yaml:"output_file"`                                                 // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`                                                  // 错误日志单独文件
	Format     string   `yaml:"format" default:"json" validate:"oneof=json console"`         // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	newEncoder := func() zapcore.Encoder {
		if cfg.Format == "console" {
			return zapcore.NewConsoleEncoder(encoderConfig)
		}
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{}
	if contains(cfg.Outputs, "stdout") {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(os.Stdout), level))
	}
	// serve 模式下 stdout 可能被 CLI 输出占用
	if contains(cfg.Outputs, "stderr") {
		cores = append(cores, zapcore.NewCore(newEncoder(), zapcore.AddSync(os.Stderr), level))
	}

	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level))
	}

	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		errorWriter, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	core := zapcore.NewTee(cores...)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		config: cfg,
	}, nil
}

// NewWithCore wraps an existing core, e.g. zaptest/observer in tests.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}
}

// NewNop 返回丢弃所有输出的 logger。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), config: DefaultConfig()}
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toFields(fields)...),
		config: l.config,
	}
}

// WithRun 绑定 run_id，一次运行内所有事件共享。
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("run_id", runID)),
		config: l.config,
	}
}

// LogStage 记录流水线阶段完成事件
func (l *Logger) LogStage(stage string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = "stage_done"
	fields["stage"] = stage
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	l.Info("stage_event", toFields(fields)...)
}

// LogDrop 记录被丢弃的行/文件
func (l *Logger) LogDrop(stage, reason string, count int, fields map[string]interface{}) {
	if count == 0 {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = "rows_dropped"
	fields["stage"] = stage
	fields["reason"] = reason
	fields["count"] = count
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	l.Warn("drop_event", toFields(fields)...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["event"] = "run_error"
	context["error"] = err.Error()
	context["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	l.Error("error_event", toFields(context)...)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}

func toFields(m map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
