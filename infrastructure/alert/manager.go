package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Alert 告警信息
type Alert struct {
	Level     string                 `json:"level"`
	Rule      string                 `json:"rule"`
	Message   string                 `json:"message"`
	RunID     string                 `json:"runId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 同一 key 在 interval 内只放行一次
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器；throttle 为 0 时不限流
func NewManager(channels []Channel, throttle time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttle),
	}
}

// Send 发送到所有通道。被限流时静默返回 nil；仅当所有通道都失败时返回错误。
func (m *Manager) Send(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if !m.throttle.Allow(a.Level + ":" + a.Rule) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s failed: %w", ch.Name(), err))
		}
	}
	if len(m.channels) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

// Notify 对一次运行求值并发送每条触发的告警，返回触发的告警。
func (m *Manager) Notify(o Outcome, rules Rules) ([]Alert, error) {
	alerts := rules.Evaluate(o)
	var errs []error
	for _, a := range alerts {
		if err := m.Send(a); err != nil {
			errs = append(errs, err)
		}
	}
	return alerts, errors.Join(errs...)
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

// Build 组装默认通道：总是写日志，配置了 webhook 时同时推送。
func Build(webhook string, throttle time.Duration, log *zap.Logger) *Manager {
	channels := []Channel{NewLogChannel("log", log)}
	if webhook != "" {
		channels = append(channels, NewWebhookChannel("webhook", webhook, 0))
	}
	return NewManager(channels, throttle)
}
