package market

import (
	"math"
	"testing"
	"time"
)

func TestCountWindow_IncludesCurrent(t *testing.T) {
	w := NewCountWindow(3)
	now := time.Unix(0, 0)
	// 需要 3 个先前观测：第 4 个样本才就绪
	for i := 0; i < 3; i++ {
		w.Add(100.0+float64(i), now.Add(time.Duration(i)*time.Second))
		if w.Ready() {
			t.Fatalf("window ready after %d samples", i+1)
		}
	}
	w.Add(103, now.Add(3*time.Second))
	if !w.Ready() {
		t.Fatal("window should be ready once 3 prior samples exist")
	}
	mean, std := w.Stats()
	if mean != 102.0 {
		t.Errorf("Expected mean 102 over 101,102,103, got %f", mean)
	}
	if math.Abs(std-1.0) > 1e-12 {
		t.Errorf("Expected sample std 1, got %f", std)
	}
	if len(w.prices) != 3 || w.prices[0] != 101.0 {
		t.Errorf("Expected oldest sample evicted, got %v", w.prices)
	}
}

func TestCountWindow_MatchesTrailingMean(t *testing.T) {
	// mids 1..6, window 3: rows at mids 4,5,6 with means 3,4,5
	w := NewCountWindow(3)
	var means []float64
	for i := 1; i <= 6; i++ {
		w.Add(float64(i), time.Time{})
		if w.Ready() {
			m, _ := w.Stats()
			means = append(means, m)
		}
	}
	want := []float64{3, 4, 5}
	if len(means) != len(want) {
		t.Fatalf("got %d ready rows, want %d", len(means), len(want))
	}
	for i := range want {
		if means[i] != want[i] {
			t.Errorf("row %d mean = %f, want %f", i, means[i], want[i])
		}
	}
}

func TestCountWindow_SizeOneNeverReady(t *testing.T) {
	w := NewCountWindow(1)
	w.Add(1, time.Time{})
	w.Add(2, time.Time{})
	if w.Ready() {
		t.Error("size-1 window cannot produce a sample std")
	}
}

func TestTimeWindow_Eviction(t *testing.T) {
	w := NewTimeWindow(30 * time.Second)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	// samples at 0s..40s
	for i := 0; i < 5; i++ {
		w.Add(float64(100+i), base.Add(time.Duration(i*10)*time.Second))
	}

	// row at 40s: window (10s, 40s] holds 20s,30s,40s
	if !w.Ready() {
		t.Fatal("expected ready window")
	}
	mean, _ := w.Stats()
	if mean != 103.0 {
		t.Errorf("Expected mean 103, got %f", mean)
	}
}

func TestTimeWindow_NeedsFullHistory(t *testing.T) {
	w := NewTimeWindow(60 * time.Second)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i <= 5; i++ {
		w.Add(100, base.Add(time.Duration(i*10)*time.Second))
	}
	if w.Ready() {
		t.Error("history shorter than 60s must not be ready")
	}
	w.Add(100, base.Add(60*time.Second))
	if !w.Ready() {
		t.Error("history of exactly 60s should be ready")
	}
	if w.Label() != "60s" {
		t.Errorf("unexpected label %q", w.Label())
	}
}
