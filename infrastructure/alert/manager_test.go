package alert

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"greenfloor/infrastructure/logger"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	sent, err := mgr.SendAlert(Alert{
		Level:   LevelInfo,
		Message: "test message",
		Fields:  map[string]interface{}{"key": "value"},
	})
	if err != nil || !sent {
		t.Fatalf("SendAlert: sent=%v err=%v", sent, err)
	}
	alerts := mock.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Timestamp.IsZero() {
		t.Fatal("timestamp should be set")
	}
}

func TestThrottlingByKey(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	mgr.Warn("m1:empty_ladder", "empty ladder", nil)
	mgr.Warn("m1:empty_ladder", "empty ladder again", nil)
	mgr.Warn("m2:empty_ladder", "empty ladder", nil)
	if n := len(mock.Alerts()); n != 2 {
		t.Fatalf("expected 2 alerts after throttling, got %d", n)
	}

	mgr.ResetThrottle()
	mgr.Warn("m1:empty_ladder", "empty ladder", nil)
	if n := len(mock.Alerts()); n != 3 {
		t.Fatalf("expected 3 alerts after reset, got %d", n)
	}
}

func TestThrottlerInterval(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	if !th.Allow("k") {
		t.Fatal("first call should pass")
	}
	now = now.Add(30 * time.Second)
	if th.Allow("k") {
		t.Fatal("call inside interval should be throttled")
	}
	now = now.Add(30 * time.Second)
	if !th.Allow("k") {
		t.Fatal("call after interval should pass")
	}
	th.Reset("k")
	if !th.Allow("k") {
		t.Fatal("call after reset should pass")
	}
}

func TestChannelErrors(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, time.Minute)
	if _, err := mgr.SendAlert(Alert{Level: LevelError, Message: "x"}); err == nil {
		t.Fatal("expected error when every channel fails")
	}

	good := NewMockChannel("good")
	mgr.AddChannel(good)
	if _, err := mgr.SendAlert(Alert{Level: LevelError, Message: "y"}); err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(good.Alerts()) != 1 {
		t.Fatal("good channel should receive alert")
	}
}

func TestLoggerChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := NewLoggerChannel(logger.Wrap(zap.New(core)))
	mgr := NewManager([]Channel{ch}, time.Minute)

	mgr.Error("wallet", "fingerprint mismatch", map[string]interface{}{"expected": 1})
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("level = %s", entries[0].Level)
	}
	if entries[0].ContextMap()["alert_level"] != "ERROR" {
		t.Fatalf("missing alert_level field: %v", entries[0].ContextMap())
	}
}
