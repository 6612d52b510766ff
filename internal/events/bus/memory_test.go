package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	received := make(chan *Event, 1)
	sub, err := bus.Subscribe("team.created", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("team.created", "test", map[string]interface{}{"team_id": "t1"})
	if err := bus.Publish(context.Background(), "team.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != "team.created" {
			t.Errorf("Expected event type team.created, got %s", got.Type)
		}
		if got.Data["team_id"] != "t1" {
			t.Errorf("Expected team_id t1, got %v", got.Data["team_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestMemoryEventBus_WildcardSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int64
	_, err := bus.Subscribe("task.*", func(ctx context.Context, e *Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	_ = bus.Publish(ctx, "task.assigned", NewEvent("task.assigned", "test", nil))
	_ = bus.Publish(ctx, "task.completed", NewEvent("task.completed", "test", nil))
	_ = bus.Publish(ctx, "team.created", NewEvent("team.created", "test", nil))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&count) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != 2 {
		t.Errorf("Expected 2 matching events, got %d", got)
	}
}

func TestMemoryEventBus_MultiTokenWildcard(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	received := make(chan string, 2)
	_, err := bus.Subscribe("member.>", func(ctx context.Context, e *Event) error {
		received <- e.Type
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(context.Background(), "member.status.changed",
		NewEvent("member.status.changed", "test", nil))

	select {
	case typ := <-received:
		if typ != "member.status.changed" {
			t.Errorf("Unexpected event type %s", typ)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var count int64
	sub, err := bus.Subscribe("team.created", func(ctx context.Context, e *Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !sub.IsValid() {
		t.Error("Expected subscription to be valid")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	_ = bus.Publish(context.Background(), "team.created", NewEvent("team.created", "test", nil))
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt64(&count); got != 0 {
		t.Errorf("Expected 0 events after unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after close")
	}
	if err := bus.Publish(context.Background(), "x", NewEvent("x", "test", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
}
