package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"microstructure-lab/monitor/logschema"
)

func TestSendSetsTimestamp(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)

	if err := mgr.Send(Alert{Level: LevelInfo, Rule: "x", Message: "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	if mock.Alerts()[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if got := mgr.Channels(); len(got) != 1 || got[0] != "mock" {
		t.Errorf("channels = %v", got)
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.throttle.now = func() time.Time { return clock }

	a := Alert{Level: LevelWarning, Rule: RuleNoData}
	_ = mgr.Send(a)
	_ = mgr.Send(a)
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	// 不同 level 或 rule 互不限流
	_ = mgr.Send(Alert{Level: LevelError, Rule: RuleNoData})
	_ = mgr.Send(Alert{Level: LevelWarning, Rule: RuleFilesSkipped})
	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}

	clock = clock.Add(time.Hour)
	_ = mgr.Send(a)
	if mock.Count() != 4 {
		t.Errorf("after throttle period: expected 4 alerts, got %d", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.Send(a)
	if mock.Count() != 5 {
		t.Errorf("after reset: expected 5 alerts, got %d", mock.Count())
	}
}

func TestChannelFailures(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")

	mgr := NewManager([]Channel{bad}, 0)
	if err := mgr.Send(Alert{Rule: "a"}); err == nil {
		t.Error("expected error when all channels fail")
	}

	mgr.AddChannel(good)
	if err := mgr.Send(Alert{Rule: "b"}); err != nil {
		t.Errorf("partial failure should not error: %v", err)
	}
	if good.Count() != 1 {
		t.Errorf("good channel: expected 1 alert, got %d", good.Count())
	}
}

func TestRulesEvaluate(t *testing.T) {
	rules := Rules{MinPositiveRate: 0.01}
	tests := []struct {
		name string
		o    Outcome
		want []string
	}{
		{"healthy", Outcome{Status: "ok", FeatureRows: 100, Positives: 10, OriginalAccuracy: 0.95, Baseline: 0.9}, nil},
		{"failed", Outcome{Status: "failed", Error: "boom"}, []string{RuleRunFailed}},
		{"no data", Outcome{Status: "no_data"}, []string{RuleNoData}},
		{"skipped and failed", Outcome{Status: "failed", SkippedFiles: 2}, []string{RuleRunFailed, RuleFilesSkipped}},
		{"few positives", Outcome{Status: "ok", FeatureRows: 1000, Positives: 5, OriginalAccuracy: 1, Baseline: 0.5}, []string{RuleFewPositives}},
		{"at baseline", Outcome{Status: "ok", FeatureRows: 100, Positives: 10, OriginalAccuracy: 0.9, Baseline: 0.9}, []string{RuleBelowBaseline}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Evaluate(tt.o)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d alerts %+v, want %v", len(got), got, tt.want)
			}
			for i, a := range got {
				if a.Rule != tt.want[i] {
					t.Errorf("alert %d rule = %s, want %s", i, a.Rule, tt.want[i])
				}
			}
		})
	}

	if got := (Rules{IgnoreSkipped: true}).Evaluate(Outcome{Status: "ok", SkippedFiles: 3, OriginalAccuracy: 1}); len(got) != 0 {
		t.Errorf("skipped-file warning should be off, got %+v", got)
	}
}

func TestNotify(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)
	alerts, err := mgr.Notify(Outcome{RunID: "r1", Status: "failed", Error: "x"}, Rules{})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(alerts) != 1 || mock.Count() != 1 {
		t.Fatalf("expected one alert delivered, got %d/%d", len(alerts), mock.Count())
	}
	if mock.Alerts()[0].RunID != "r1" {
		t.Errorf("run id not propagated: %+v", mock.Alerts()[0])
	}
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := NewLogChannel("log", zap.New(core))
	if err := ch.Send(Alert{Level: LevelError, Rule: RuleRunFailed, RunID: "r1", Message: "run failed",
		Fields: map[string]interface{}{"error": "boom"}}); err != nil {
		t.Fatal(err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if err := logschema.Validate("alert", fields); err != nil {
		t.Error(err)
	}
	if fields["error"] != "boom" {
		t.Errorf("extra field missing: %v", fields)
	}
	if entries[0].Level != zap.ErrorLevel {
		t.Errorf("level = %v", entries[0].Level)
	}
}

func TestWebhookChannel(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL, time.Second)
	if err := ch.Send(Alert{Level: LevelWarning, Rule: RuleNoData, RunID: "r2"}); err != nil {
		t.Fatalf("webhook send failed: %v", err)
	}
	if got.Rule != RuleNoData || got.RunID != "r2" {
		t.Errorf("webhook payload = %+v", got)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer fail.Close()
	if err := NewWebhookChannel("hook", fail.URL, time.Second).Send(Alert{}); err == nil {
		t.Error("expected error on 500")
	}
}
