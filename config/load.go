package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"microstructure-lab/infrastructure/alert"
	"microstructure-lab/infrastructure/logger"
	"microstructure-lab/internal/model"
)

// AppConfig holds the full pipeline configuration.
type AppConfig struct {
	Env      string        `yaml:"env" default:"dev" validate:"required"`
	Data     DataConfig    `yaml:"data"`
	Features FeatureConfig `yaml:"features"`
	Label    LabelConfig   `yaml:"label"`
	Balance  BalanceConfig `yaml:"balance"`
	Eval     EvalConfig    `yaml:"eval"`
	Model    model.Params  `yaml:"model"`
	Output   OutputConfig  `yaml:"output"`
	Log      logger.Config `yaml:"log"`
	Server   ServerConfig  `yaml:"server"`
	Explore  ExploreConfig `yaml:"explore"`
	Alert    AlertConfig   `yaml:"alert"`
}

// DataConfig 数据目录布局：<root>/<period>/<instrument>/market_data*.csv
type DataConfig struct {
	Root        string   `yaml:"root" validate:"required"`
	Instruments []string `yaml:"instruments" default:"[\"A\",\"B\",\"C\",\"D\",\"E\"]" validate:"min=1,unique,dive,required"`
	// NestedPeriod 对应 <root>/<period>/<period>/<instrument> 布局
	NestedPeriod bool `yaml:"nestedPeriod"`
	// StrictSchema 时 schema 不匹配直接失败，否则跳过文件
	StrictSchema bool     `yaml:"strictSchema"`
	Headerless   []string `yaml:"headerless" default:"[\"market_data_A_1.csv\"]" validate:"dive,required"`
}

type FeatureConfig struct {
	Mode      string          `yaml:"mode" default:"count" validate:"oneof=count time"`
	Windows   []int           `yaml:"windows" default:"[30,60]" validate:"dive,gte=2"`
	Durations []time.Duration `yaml:"durations" validate:"dive,gt=0"`
	// PriceSource 滚动窗口使用的价格：mid 或 bid
	PriceSource string `yaml:"priceSource" default:"mid" validate:"oneof=mid bid"`
}

type LabelConfig struct {
	Mode           string  `yaml:"mode" default:"absolute" validate:"oneof=absolute zscore"`
	SharpThreshold float64 `yaml:"sharpThreshold" default:"0.05" validate:"gte=0"`
	DropThreshold  float64 `yaml:"dropThreshold" default:"0.02" validate:"gte=0"`
	ZWindow        int     `yaml:"zWindow" default:"30" validate:"gte=2"`
	ZCutoff        float64 `yaml:"zCutoff" default:"-2"`
}

type BalanceConfig struct {
	K int `yaml:"k" default:"5" validate:"gte=1"`
}

type EvalConfig struct {
	Seed           uint64 `yaml:"seed" default:"42"`
	KFolds         int    `yaml:"kFolds" default:"5" validate:"gte=2"`
	DisableShuffle bool   `yaml:"disableShuffle"`
}

type OutputConfig struct {
	Dir             string `yaml:"dir" default:"out"`
	XLSX            bool   `yaml:"xlsx"`
	MetricsTextfile string `yaml:"metricsTextfile"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
	RerunDebounce   time.Duration `yaml:"rerunDebounce" default:"2s"`
}

// ExploreConfig 探索视图参数（相关性/热力图/聚类）。
type ExploreConfig struct {
	Clusters       int           `yaml:"clusters" default:"3" validate:"gte=1"`
	ResampleBucket time.Duration `yaml:"resampleBucket" default:"1m" validate:"gt=0"`
}

// AlertConfig 运行结果告警：总是写日志，Webhook 非空时同时 POST。
type AlertConfig struct {
	Webhook  string        `yaml:"webhook" validate:"omitempty,url"`
	Throttle time.Duration `yaml:"throttle" default:"5m" validate:"gte=0"`
	Rules    alert.Rules   `yaml:"rules"`
}

// Default returns a config with every default applied and no data root.
// It panics only when a default tag is malformed.
func Default() AppConfig {
	cfg, err := withDefaults()
	if err != nil {
		panic(err)
	}
	return cfg
}

// withDefaults 在解析 YAML 之前填好默认值，文件里显式写出的零值不会被覆盖。
func withDefaults() (AppConfig, error) {
	var cfg AppConfig
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply defaults: %w", err)
	}
	cfg.Features.Durations = []time.Duration{30 * time.Second, 60 * time.Second}
	return cfg, nil
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parse(path string) (AppConfig, error) {
	cfg, err := withDefaults()
	if err != nil {
		return cfg, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// envOverrides are read with the LAB prefix, e.g. LAB_ROOT, LAB_INSTRUMENTS=A,B.
type envOverrides struct {
	Root        string   `envconfig:"ROOT"`
	Instruments []string `envconfig:"INSTRUMENTS"`
	Seed        *uint64  `envconfig:"SEED"`
	KFolds      int      `envconfig:"K_FOLDS"`
	WindowMode  string   `envconfig:"WINDOW_MODE"`
	LabelMode   string   `envconfig:"LABEL_MODE"`
	LogLevel    string   `envconfig:"LOG_LEVEL"`
	OutputDir   string   `envconfig:"OUTPUT_DIR"`
	Addr        string   `envconfig:"ADDR"`
}

// LoadWithEnvOverrides loads config then applies LAB_* environment overrides.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadEnvFile 把 .env 文件中的变量导入进程环境，已存在的变量不覆盖。
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any LAB_* variables that are set.
func ApplyEnv(cfg *AppConfig) error {
	var env envOverrides
	if err := envconfig.Process("LAB", &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if env.Root != "" {
		cfg.Data.Root = env.Root
	}
	if len(env.Instruments) > 0 {
		cfg.Data.Instruments = env.Instruments
	}
	if env.Seed != nil {
		cfg.Eval.Seed = *env.Seed
	}
	if env.KFolds != 0 {
		cfg.Eval.KFolds = env.KFolds
	}
	if env.WindowMode != "" {
		cfg.Features.Mode = env.WindowMode
	}
	if env.LabelMode != "" {
		cfg.Label.Mode = env.LabelMode
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.OutputDir != "" {
		cfg.Output.Dir = env.OutputDir
	}
	if env.Addr != "" {
		cfg.Server.Addr = env.Addr
	}
	return nil
}
