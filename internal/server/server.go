// Package server 提供 HTTP 接口：最新报告、探索视图、指标、运行触发与 websocket 推送。
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"microstructure-lab/config"
	"microstructure-lab/infrastructure/alert"
	"microstructure-lab/infrastructure/logger"
	"microstructure-lab/infrastructure/monitor"
	"microstructure-lab/internal/analysis"
	"microstructure-lab/internal/pipeline"
	"microstructure-lab/internal/report"
	"microstructure-lab/market"
)

var ErrBusy = errors.New("server: a run is already in progress")

// Server 同一时刻只允许一次运行；最近一次报告常驻内存供查询。
type Server struct {
	mu      sync.RWMutex
	cfg     config.AppConfig
	last    *pipeline.Report
	running bool

	runMu  sync.Mutex
	log    *logger.Logger
	mon    *monitor.Monitor
	hub    *Hub
	alerts *alert.Manager
}

func New(cfg config.AppConfig, log *logger.Logger, mon *monitor.Monitor) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if mon == nil {
		mon = monitor.New(monitor.DefaultConfig())
	}
	return &Server{
		cfg:    cfg,
		log:    log,
		mon:    mon,
		hub:    NewHub(16),
		alerts: alert.Build(cfg.Alert.Webhook, cfg.Alert.Throttle, log.Logger),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Alerts() *alert.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts
}

func (s *Server) Config() config.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig applies cfg to subsequent runs. A run in flight keeps its config.
// Alert channels are rebuilt only when the webhook or throttle changes.
func (s *Server) SetConfig(cfg config.AppConfig) {
	s.mu.Lock()
	if cfg.Alert.Webhook != s.cfg.Alert.Webhook || cfg.Alert.Throttle != s.cfg.Alert.Throttle {
		s.alerts = alert.Build(cfg.Alert.Webhook, cfg.Alert.Throttle, s.log.Logger)
	}
	s.cfg = cfg
	s.mu.Unlock()
}

// Last returns the most recent report, or nil before the first run.
func (s *Server) Last() *pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Run executes one pipeline run with the current config, writes its
// artifacts and publishes the outcome. It returns ErrBusy without waiting
// when another run holds the lock.
func (s *Server) Run(ctx context.Context) (*pipeline.Report, error) {
	if !s.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.runMu.Unlock()

	cfg := s.Config()
	p, err := pipeline.New(cfg, pipeline.WithLogger(s.log), pipeline.WithMonitor(s.mon))
	if err != nil {
		return nil, err
	}
	s.setRunning(true)
	defer s.setRunning(false)
	s.hub.Publish(Event{Type: EventRunStarted})

	rep, runErr := p.Run(ctx)
	if _, err := report.New(cfg.Output.Dir,
		report.WithWorkbook(cfg.Output.XLSX),
		report.WithLogger(s.log.Logger)).Write(rep); err != nil {
		s.log.Warn("report write failed", zap.String("run_id", rep.RunID), zap.Error(err))
	}
	if cfg.Output.MetricsTextfile != "" {
		if err := s.mon.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
			s.log.Warn("metrics textfile write failed", zap.Error(err))
		}
	}

	if _, err := s.Alerts().Notify(rep.Outcome(), cfg.Alert.Rules); err != nil {
		s.log.Warn("alert delivery failed", zap.String("run_id", rep.RunID), zap.Error(err))
	}

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
	s.hub.Publish(Event{
		Type:         EventRunDone,
		RunID:        rep.RunID,
		Status:       string(rep.Status),
		Error:        rep.Error,
		Rows:         rep.FeatureRows,
		MeanAccuracy: rep.Evaluation.MeanAccuracy,
	})
	return rep, runErr
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// websocket 不能被会包装 ResponseWriter 的中间件处理
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", s.mon.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/healthz", s.handleHealth)
		r.Get("/report", s.handleReport)
		r.Post("/runs", s.handleRun)
		r.Get("/explore", s.handleExplore)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok", "running": s.Running()}
	if last := s.Last(); last != nil {
		resp["lastRunId"] = last.RunID
		resp["lastStatus"] = last.Status
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	last := s.Last()
	if last == nil {
		renderError(w, r, http.StatusNotFound, errors.New("no run yet"))
		return
	}
	render.JSON(w, r, last)
}

// handleRun 同步执行；失败的运行仍返回部分报告。
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Run(r.Context())
	switch {
	case errors.Is(err, ErrBusy):
		renderError(w, r, http.StatusConflict, err)
		return
	case rep == nil && err != nil:
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	if rep.Status == pipeline.StatusFailed {
		render.Status(r, http.StatusUnprocessableEntity)
	}
	render.JSON(w, r, rep)
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	last := s.Last()
	if last == nil || last.Ticks.Empty() {
		renderError(w, r, http.StatusNotFound, errors.New("no data loaded"))
		return
	}
	cfg := s.Config()
	opt := analysis.Options{
		Instrument:    r.URL.Query().Get("instrument"),
		Period:        r.URL.Query().Get("period"),
		Bucket:        cfg.Explore.ResampleBucket,
		Clusters:      cfg.Explore.Clusters,
		Seed:          cfg.Eval.Seed,
		DropThreshold: cfg.Label.DropThreshold,
	}
	if b := strings.TrimSpace(r.URL.Query().Get("bucket")); b != "" {
		d, err := time.ParseDuration(b)
		if err != nil || d <= 0 {
			renderError(w, r, http.StatusBadRequest, errors.New("bucket must be a positive duration"))
			return
		}
		opt.Bucket = d
	}
	ov, err := analysis.Explore(last.Ticks, featureRows(last.Rows), opt)
	if err != nil {
		renderError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	render.JSON(w, r, ov)
}

func featureRows(rows []market.LabeledRow) []market.FeatureRow {
	if rows == nil {
		return nil
	}
	out := make([]market.FeatureRow, len(rows))
	for i, r := range rows {
		out[i] = r.FeatureRow
	}
	return out
}

// Serve runs an initial batch, then serves HTTP and reruns whenever the
// config file or data tree changes. It returns when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, configPath string) error {
	cfg := s.Config()
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go s.rerun(ctx)
	if configPath != "" {
		w := config.Watcher{Path: configPath, DataRoot: cfg.Data.Root, Debounce: cfg.Server.RerunDebounce, Log: s.log.Logger}
		go func() {
			err := w.Start(ctx, func(c config.Change) {
				if c.ConfigChanged {
					_, _ = daemon.SdNotify(false, daemon.SdNotifyReloading)
					s.SetConfig(c.Config)
					s.hub.Publish(Event{Type: EventReloaded})
					_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
				}
				s.rerun(ctx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.log.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		s.log.Info("systemd notified ready")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (s *Server) rerun(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			s.log.Info("rerun skipped, run in progress")
			return
		}
		s.log.Warn("run failed", zap.Error(err))
	}
}
