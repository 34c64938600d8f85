package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"microstructure-lab/config"
	"microstructure-lab/infrastructure/alert"
	"microstructure-lab/infrastructure/logger"
	"microstructure-lab/infrastructure/monitor"
	"microstructure-lab/internal/analysis"
	"microstructure-lab/internal/features"
	"microstructure-lab/internal/ingest"
	"microstructure-lab/internal/pipeline"
	"microstructure-lab/internal/report"
	"microstructure-lab/internal/server"
)

var cfgPath, envFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "labctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "tick 数据特征、急变标注与交叉验证工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/lab.yaml", "配置文件路径")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "先加载该 .env 文件中的 LAB_* 变量")
	root.AddCommand(runCmd(), serveCmd(), exploreCmd(), loadCmd())
	return root
}

// setup 加载配置并按配置构建 logger 与 monitor。
func setup() (config.AppConfig, *logger.Logger, *monitor.Monitor, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return config.AppConfig{}, nil, nil, err
		}
	}
	cfg, err := config.LoadWithEnvOverrides(cfgPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, log, monitor.New(monitor.DefaultConfig()), nil
}

func runCmd() *cobra.Command {
	var outDir, textfile string
	var xlsx bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次完整批处理并写出报告",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, mon, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()
			if outDir != "" {
				cfg.Output.Dir = outDir
			}
			if cmd.Flags().Changed("xlsx") {
				cfg.Output.XLSX = xlsx
			}
			if textfile != "" {
				cfg.Output.MetricsTextfile = textfile
			}

			p, err := pipeline.New(cfg, pipeline.WithLogger(log), pipeline.WithMonitor(mon))
			if err != nil {
				return err
			}
			rep, runErr := p.Run(cmd.Context())
			files, err := report.New(cfg.Output.Dir,
				report.WithWorkbook(cfg.Output.XLSX),
				report.WithLogger(log.Logger)).Write(rep)
			if err != nil {
				log.Warn("report write failed", zap.Error(err))
			}
			if cfg.Output.MetricsTextfile != "" {
				if err := mon.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
					log.Warn("metrics textfile write failed", zap.Error(err))
				}
			}
			alerts, err := alert.Build(cfg.Alert.Webhook, cfg.Alert.Throttle, log.Logger).
				Notify(rep.Outcome(), cfg.Alert.Rules)
			if err != nil {
				log.Warn("alert delivery failed", zap.Error(err))
			}
			printSummary(cmd.OutOrStdout(), rep, files)
			for _, a := range alerts {
				fmt.Fprintf(cmd.OutOrStdout(), "  alert %s [%s]: %s\n", a.Rule, a.Level, a.Message)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "输出目录（覆盖配置）")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "同时写出 report.xlsx")
	cmd.Flags().StringVar(&textfile, "metrics-textfile", "", "运行结束后写出 Prometheus textfile（覆盖配置）")
	return cmd
}

func printSummary(w io.Writer, rep *pipeline.Report, files []string) {
	fmt.Fprintf(w, "run %s: %s\n", rep.RunID, rep.Status)
	fmt.Fprintf(w, "  periods=%d files=%d skipped=%d ticks=%d\n", len(rep.Periods), rep.Files, len(rep.Issues), rep.TickRows)
	if rep.FeatureRows > 0 {
		fmt.Fprintf(w, "  feature rows=%d positives=%d balanced=%d synthetic=%d\n",
			rep.FeatureRows, rep.Positives, rep.BalancedRows, rep.Synthetic)
	}
	if ev := rep.Evaluation; len(ev.Folds) > 0 {
		for _, f := range ev.Folds {
			fmt.Fprintf(w, "  fold %d: accuracy=%.4f (train=%d test=%d)\n", f.Fold, f.Accuracy, f.Train, f.Test)
		}
		fmt.Fprintf(w, "  mean accuracy=%.4f baseline=%.4f original=%.4f\n", ev.MeanAccuracy, ev.Baseline, ev.OriginalAccuracy)
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", rep.Error)
	}
	for _, f := range files {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务，配置或数据变化时自动重跑",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, mon, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			err = server.New(cfg, log, mon).Serve(cmd.Context(), cfgPath)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（覆盖配置）")
	return cmd
}

func loadCmd() *cobra.Command {
	var period, instrument string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "只加载数据并打印各 period 的文件与行数",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (period == "") != (instrument == "") {
				return errors.New("--period 与 --instrument 需同时指定")
			}
			cfg, log, _, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()
			w := cmd.OutOrStdout()

			if period != "" {
				p, err := pipeline.New(cfg, pipeline.WithLogger(log))
				if err != nil {
					return err
				}
				res, err := p.NewLoader(log.Logger).Load(period, instrument)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "group=%s/%s files=%d ticks=%d\n", period, instrument, len(res.Files), res.Dataset.Len())
				printDrops(w, res.Dropped, res.Issues)
				return nil
			}

			_, agg, err := aggregate(cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "root=%s periods=%v\n", cfg.Data.Root, agg.Periods)
			fmt.Fprintf(w, "files=%d groups=%d ticks=%d\n", agg.Files, agg.Groups, agg.Dataset.Len())
			printDrops(w, agg.Dropped, agg.Issues)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "只加载该 period（需配合 --instrument）")
	cmd.Flags().StringVar(&instrument, "instrument", "", "只加载该标的（需配合 --period）")
	return cmd
}

func printDrops(w io.Writer, d ingest.DropCounts, issues []ingest.FileIssue) {
	fmt.Fprintf(w, "dropped: timestamp=%d numeric=%d shape=%d\n", d.Timestamp, d.Numeric, d.Shape)
	for _, is := range issues {
		fmt.Fprintf(w, "skipped %s: %v\n", is.Path, is.Err)
	}
}

func exploreCmd() *cobra.Command {
	var opt analysis.Options
	var bucket time.Duration
	var out string
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "输出相关性、热力图、分钟线、聚类等探索视图（JSON）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, _, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()
			p, agg, err := aggregate(cfg, log)
			if err != nil {
				return err
			}
			if agg.Dataset.Empty() {
				return fmt.Errorf("no data under %s", cfg.Data.Root)
			}
			engine, err := features.NewEngine(p.FeatureConfig())
			if err != nil {
				return err
			}
			fr, err := engine.Generate(agg.Dataset)
			if err != nil && !errors.Is(err, features.ErrInsufficientData) {
				return err
			}

			opt.Bucket = cfg.Explore.ResampleBucket
			if bucket > 0 {
				opt.Bucket = bucket
			}
			if !cmd.Flags().Changed("clusters") {
				opt.Clusters = cfg.Explore.Clusters
			}
			opt.Seed = cfg.Eval.Seed
			opt.DropThreshold = cfg.Label.DropThreshold
			ov, err := analysis.Explore(agg.Dataset, fr.Rows, opt)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(ov)
		},
	}
	cmd.Flags().StringVar(&opt.Instrument, "instrument", "", "热力图/聚类使用的标的（默认第一个）")
	cmd.Flags().StringVar(&opt.Period, "period", "", "分钟线使用的 period（默认第一个）")
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "重采样周期（覆盖配置）")
	cmd.Flags().IntVar(&opt.Clusters, "clusters", 0, "KMeans 簇数，0 表示不聚类")
	cmd.Flags().StringVarP(&out, "out", "o", "", "写入文件而非 stdout")
	return cmd
}

func aggregate(cfg config.AppConfig, log *logger.Logger) (*pipeline.Pipeline, ingest.AggregateResult, error) {
	p, err := pipeline.New(cfg, pipeline.WithLogger(log))
	if err != nil {
		return nil, ingest.AggregateResult{}, err
	}
	agg, err := ingest.NewAggregator(p.NewLoader(log.Logger)).Aggregate(cfg.Data.Instruments)
	return p, agg, err
}
