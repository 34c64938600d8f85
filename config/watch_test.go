package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watchCfg = `
data:
  root: /data
`

func TestWatcherStopsOnCancel(t *testing.T) {
	path := writeTempConfig(t, watchCfg)
	w := Watcher{Path: path, Debounce: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	if err := w.Start(ctx, nil); err == nil {
		t.Fatalf("expected context cancellation")
	}
}

func TestWatcherRejectsInvalidInitialConfig(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w := Watcher{Path: path}
	if err := w.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected validation error for missing root")
	}
}

func startWatcher(t *testing.T, w Watcher) <-chan Change {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := make(chan Change, 4)
	go func() {
		_ = w.Start(ctx, func(c Change) { ch <- c })
	}()
	// fsnotify 注册需要一点时间
	time.Sleep(100 * time.Millisecond)
	return ch
}

func TestWatcherTriggersOnConfigChange(t *testing.T) {
	path := writeTempConfig(t, watchCfg)
	ch := startWatcher(t, Watcher{Path: path, Debounce: 20 * time.Millisecond})

	if err := os.WriteFile(path, []byte("data:\n  root: /other\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if !c.ConfigChanged || c.Config.Data.Root != "/other" {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherTriggersOnDataChange(t *testing.T) {
	path := writeTempConfig(t, watchCfg)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Period1", "A"), 0o755); err != nil {
		t.Fatal(err)
	}
	ch := startWatcher(t, Watcher{Path: path, DataRoot: root, Debounce: 20 * time.Millisecond})

	csv := filepath.Join(root, "Period1", "A", "market_data_A_2.csv")
	if err := os.WriteFile(csv, []byte("bidVolume,bidPrice,askVolume,askPrice,timestamp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if !c.DataChanged || c.ConfigChanged {
			t.Fatalf("unexpected change: %+v", c)
		}
		if c.Config.Data.Root != "/data" {
			t.Fatalf("config should be the last good one: %+v", c.Config.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected update callback")
	}
}
