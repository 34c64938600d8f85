package config

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is delivered once a burst of file events has settled.
type Change struct {
	Config        AppConfig
	ConfigChanged bool
	DataChanged   bool
}

// Watcher 监听配置文件与数据目录，变化平稳后回调一次。
type Watcher struct {
	Path     string
	DataRoot string // 可选，递归监听
	Debounce time.Duration
	Log      *zap.Logger
}

// Start blocks until ctx is done. The config at Path must load when Start is
// called; later reloads that fail validation keep the last good config.
func (w Watcher) Start(ctx context.Context, onUpdate func(Change)) error {
	if w.Debounce <= 0 {
		w.Debounce = 2 * time.Second
	}
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}
	current, err := LoadWithEnvOverrides(w.Path)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// 监听所在目录：编辑器通常以 rename 方式替换文件
	cfgPath, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(cfgPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	dataRoot := ""
	if w.DataRoot != "" {
		if dataRoot, err = filepath.Abs(w.DataRoot); err != nil {
			return err
		}
		addTree(fw, dataRoot, log)
	}

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	var pending Change
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			switch {
			case name == cfgPath:
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending.ConfigChanged = true
			case dataRoot != "" && within(dataRoot, name):
				if event.Op&fsnotify.Create != 0 {
					addTree(fw, name, log)
				}
				pending.DataChanged = true
			default:
				continue
			}
			timer.Reset(w.Debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			if pending.ConfigChanged {
				cfg, err := LoadWithEnvOverrides(w.Path)
				if err != nil {
					log.Warn("config reload rejected", zap.String("path", w.Path), zap.Error(err))
					pending.ConfigChanged = false
				} else {
					current = cfg
				}
			}
			if pending.ConfigChanged || pending.DataChanged {
				pending.Config = current
				if onUpdate != nil {
					onUpdate(pending)
				}
			}
			pending = Change{}
		}
	}
}

// addTree adds root and every directory below it. Regular files are covered by
// their parent directory's watch.
func addTree(fw *fsnotify.Watcher, root string, log *zap.Logger) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				log.Warn("watch dir failed", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
