package perf

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T, evaluate Evaluator, cooldown time.Duration) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(time.Hour, cooldown, evaluate, logger, nil)
}

func TestAlertTriggersOnThresholdCross(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, rule Rule) ([]QueryResult, error) {
		return []QueryResult{{Value: 95, Labels: map[string]string{"service": "api"}}}, nil
	}, time.Minute)
	m.AddRule(Rule{Name: "high_cpu", Threshold: 85, Comparison: CompGT, Severity: "warning", Enabled: true})

	var mu sync.Mutex
	var delivered []Alert
	m.AddNotificationHandler(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, a)
	})

	m.CheckAllRules(context.Background())

	if len(m.ActiveAlerts()) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(m.ActiveAlerts()))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0].Status != "active" {
		t.Fatalf("expected one active delivery, got %+v", delivered)
	}
}

func TestAlertResolvesWhenConditionClears(t *testing.T) {
	value := 95.0
	m := newTestManager(t, func(ctx context.Context, rule Rule) ([]QueryResult, error) {
		return []QueryResult{{Value: value, Labels: nil}}, nil
	}, time.Minute)
	m.AddRule(Rule{Name: "high_cpu", Threshold: 85, Comparison: CompGT, Enabled: true})

	m.CheckAllRules(context.Background())
	if len(m.ActiveAlerts()) != 1 {
		t.Fatal("expected alert to be active")
	}

	value = 10.0
	m.CheckAllRules(context.Background())
	if len(m.ActiveAlerts()) != 0 {
		t.Fatal("expected alert to resolve once condition clears")
	}

	history := m.History(10)
	if len(history) != 2 || history[1].Status != "resolved" {
		t.Fatalf("expected resolved entry in history, got %+v", history)
	}
}

func TestAlertDeliveryCooldown(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, rule Rule) ([]QueryResult, error) {
		return []QueryResult{{Value: 95}}, nil
	}, time.Hour)
	m.AddRule(Rule{Name: "high_cpu", Threshold: 85, Comparison: CompGT, Enabled: true})

	deliveries := 0
	m.AddNotificationHandler(func(a Alert) { deliveries++ })

	m.CheckAllRules(context.Background())
	delete(m.active, alertKey("high_cpu", nil))
	m.CheckAllRules(context.Background())

	if deliveries != 1 {
		t.Fatalf("expected cooldown to suppress the second delivery, got %d deliveries", deliveries)
	}
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	called := false
	m := newTestManager(t, func(ctx context.Context, rule Rule) ([]QueryResult, error) {
		called = true
		return nil, nil
	}, time.Minute)
	m.AddRule(Rule{Name: "disabled", Threshold: 1, Comparison: CompGT, Enabled: false})

	m.CheckAllRules(context.Background())
	if called {
		t.Fatal("expected disabled rule to be skipped")
	}
}

func TestHandlerPanicDoesNotAbortDelivery(t *testing.T) {
	m := newTestManager(t, func(ctx context.Context, rule Rule) ([]QueryResult, error) {
		return []QueryResult{{Value: 95}}, nil
	}, time.Minute)
	m.AddRule(Rule{Name: "high_cpu", Threshold: 85, Comparison: CompGT, Enabled: true})

	second := false
	m.AddNotificationHandler(func(a Alert) { panic("boom") })
	m.AddNotificationHandler(func(a Alert) { second = true })

	m.CheckAllRules(context.Background())
	if !second {
		t.Fatal("expected second handler to still run after first panicked")
	}
}
