package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogChannel 日志告警通道
type LogChannel struct {
	log  *zap.Logger
	name string
}

func NewLogChannel(name string, log *zap.Logger) *LogChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogChannel{log: log, name: name}
}

func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("event", "alert"),
		zap.String("rule", a.Rule),
		zap.String("level", a.Level),
		zap.String("run_id", a.RunID),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelError:
		c.log.Error(a.Message, fields...)
	case LevelWarning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Info(a.Message, fields...)
	}
	return nil
}

func (c *LogChannel) Name() string { return c.name }

// WebhookChannel 以 JSON POST 推送告警
type WebhookChannel struct {
	url    string
	client *http.Client
	name   string
}

func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{url: url, client: &http.Client{Timeout: timeout}, name: name}
}

func (c *WebhookChannel) Send(a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return c.name }

// MockChannel 记录告警（用于测试验证）
type MockChannel struct {
	mu        sync.Mutex
	name      string
	alerts    []Alert
	shouldErr bool
}

func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return c.name }

func (c *MockChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *MockChannel) SetShouldError(v bool) {
	c.mu.Lock()
	c.shouldErr = v
	c.mu.Unlock()
}

func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
