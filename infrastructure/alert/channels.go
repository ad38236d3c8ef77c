package alert

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"greenfloor/infrastructure/logger"
)

// LoggerChannel 将告警写入结构化日志。
type LoggerChannel struct {
	log *logger.Logger
}

func NewLoggerChannel(log *logger.Logger) *LoggerChannel {
	return &LoggerChannel{log: log}
}

func (c *LoggerChannel) Send(a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields, zap.String("alert_level", string(a.Level)), zap.Time("alert_time", a.Timestamp))
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelInfo:
		c.log.Info(a.Message, fields...)
	case LevelWarning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Error(a.Message, fields...)
	}
	return nil
}

func (c *LoggerChannel) Name() string { return "log" }

// MockChannel 记录收到的告警（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
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
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func (c *MockChannel) SetShouldError(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = v
}
