package perf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/observability"
)

// Comparison is the direction an alert rule's value is checked against
// its threshold.
type Comparison string

const (
	CompGT  Comparison = "gt"
	CompGTE Comparison = "gte"
	CompLT  Comparison = "lt"
	CompLTE Comparison = "lte"
	CompEQ  Comparison = "eq"
)

func (c Comparison) evaluate(value, threshold float64) bool {
	switch c {
	case CompGT:
		return value > threshold
	case CompGTE:
		return value >= threshold
	case CompLT:
		return value < threshold
	case CompLTE:
		return value <= threshold
	case CompEQ:
		return value == threshold
	default:
		return false
	}
}

// Rule is an alert rule definition (spec.md §4.7).
type Rule struct {
	Name        string
	Description string
	Threshold   float64
	Comparison  Comparison
	Severity    string
	Duration    time.Duration
	Labels      map[string]string
	Annotations map[string]string
	Enabled     bool
}

// QueryResult is one labeled value an evaluator produces for a rule.
type QueryResult struct {
	Value  float64
	Labels map[string]string
}

// Evaluator computes the current value(s) a rule's query refers to. The
// alert manager is deliberately decoupled from any specific query backend
// (Prometheus in the original, the Latency Monitor here); callers adapt
// their own metric source into this shape.
type Evaluator func(ctx context.Context, rule Rule) ([]QueryResult, error)

// Alert is one active or historical alert instance.
type Alert struct {
	RuleName    string
	Severity    string
	Status      string // active | resolved
	Message     string
	Value       float64
	Threshold   float64
	StartedAt   time.Time
	ResolvedAt  *time.Time
	Labels      map[string]string
	Annotations map[string]string
}

// NotificationHandler receives every alert transition (triggered or
// resolved). Handler exceptions never abort rule evaluation — Go
// surfaces this as a recovered panic, logged and discarded.
type NotificationHandler func(Alert)

// Manager is the Alert Manager: it evaluates rules on a fixed interval,
// tracks active alerts by (rule_name, label_set) key, and delivers
// transitions to notification handlers, suppressing repeat deliveries
// within a cooldown window (spec.md §4.7).
type Manager struct {
	checkInterval time.Duration
	cooldown      time.Duration
	evaluate      Evaluator
	logger        *slog.Logger
	metrics       *observability.MetricsManager

	mu            sync.Mutex
	rules         map[string]Rule
	active        map[string]*Alert
	lastDelivered map[string]time.Time
	history       []Alert

	handlersMu sync.RWMutex
	handlers   []NotificationHandler

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager constructs an Alert Manager. cooldown defaults to 5 minutes,
// matching the original's default. metrics may be nil in tests.
func NewManager(checkInterval, cooldown time.Duration, evaluate Evaluator, logger *slog.Logger, metrics *observability.MetricsManager) *Manager {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Manager{
		checkInterval: checkInterval,
		cooldown:      cooldown,
		evaluate:      evaluate,
		logger:        logger,
		metrics:       metrics,
		rules:         make(map[string]Rule),
		active:        make(map[string]*Alert),
		lastDelivered: make(map[string]time.Time),
		done:          make(chan struct{}),
	}
}

// AddRule registers or replaces an alert rule.
func (m *Manager) AddRule(rule Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
}

// RemoveRule removes an alert rule by name.
func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
}

// AddNotificationHandler registers a pluggable delivery target.
func (m *Manager) AddNotificationHandler(h NotificationHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start launches the periodic rule-check loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.checkLoop()
}

// Stop halts the rule-check loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *Manager) checkLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.CheckAllRules(context.Background())
		}
	}
}

// CheckAllRules evaluates every enabled rule once.
func (m *Manager) CheckAllRules(ctx context.Context) {
	m.mu.Lock()
	rules := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	m.mu.Unlock()

	for _, rule := range rules {
		if err := m.checkRule(ctx, rule); err != nil {
			m.logger.Error("alert rule check failed", "rule", rule.Name, "error", err)
		}
	}
}

func (m *Manager) checkRule(ctx context.Context, rule Rule) error {
	results, err := m.evaluate(ctx, rule)
	if err != nil {
		return err
	}

	for _, result := range results {
		key := alertKey(rule.Name, result.Labels)
		triggered := rule.Comparison.evaluate(result.Value, rule.Threshold)
		m.applyResult(ctx, rule, key, result, triggered)
	}
	return nil
}

func alertKey(ruleName string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ruleName)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, labels[k])
	}
	return b.String()
}

func (m *Manager) applyResult(ctx context.Context, rule Rule, key string, result QueryResult, triggered bool) {
	m.mu.Lock()
	_, isActive := m.active[key]

	var toDeliver *Alert
	fired, resolved := false, false
	switch {
	case triggered && !isActive:
		alert := &Alert{
			RuleName:    rule.Name,
			Severity:    rule.Severity,
			Status:      "active",
			Message:     formatMessage(rule, result),
			Value:       result.Value,
			Threshold:   rule.Threshold,
			StartedAt:   time.Now(),
			Labels:      result.Labels,
			Annotations: rule.Annotations,
		}
		m.active[key] = alert
		m.history = append(m.history, *alert)
		fired = true

		if time.Since(m.lastDelivered[key]) >= m.cooldown {
			m.lastDelivered[key] = time.Now()
			snapshot := *alert
			toDeliver = &snapshot
		}

	case !triggered && isActive:
		alert := m.active[key]
		now := time.Now()
		alert.Status = "resolved"
		alert.ResolvedAt = &now
		m.history = append(m.history, *alert)
		delete(m.active, key)
		resolved = true

		snapshot := *alert
		toDeliver = &snapshot
	}
	m.mu.Unlock()

	// Metrics record every state transition regardless of notification
	// cooldown: the cooldown only suppresses handler delivery, not the
	// fact that the rule fired or cleared.
	if fired {
		m.recordFired(ctx, rule.Name)
	}
	if resolved {
		m.recordResolved(ctx, rule.Name)
	}

	if toDeliver != nil {
		m.deliver(*toDeliver)
	}
}

func (m *Manager) recordFired(ctx context.Context, rule string) {
	if m.metrics == nil {
		return
	}
	m.metrics.AlertFired(ctx, rule)
}

func (m *Manager) recordResolved(ctx context.Context, rule string) {
	if m.metrics == nil {
		return
	}
	m.metrics.AlertResolved(ctx, rule)
}

func formatMessage(rule Rule, result QueryResult) string {
	template := rule.Annotations["summary"]
	if template == "" {
		template = rule.Description
	}
	msg := strings.ReplaceAll(template, "{{$value}}", fmt.Sprintf("%.2f", result.Value))
	for k, v := range result.Labels {
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{{$labels.%s}}", k), v)
	}
	return msg
}

func (m *Manager) deliver(alert Alert) {
	m.handlersMu.RLock()
	handlers := make([]NotificationHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.safeInvoke(h, alert)
	}
}

func (m *Manager) safeInvoke(h NotificationHandler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification handler panicked", "rule", alert.RuleName, "panic", r)
		}
	}()
	h(alert)
}

// ActiveAlerts returns a snapshot of every currently active alert.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// History returns up to limit of the most recent alert transitions.
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	start := len(m.history) - limit
	out := make([]Alert, limit)
	copy(out, m.history[start:])
	return out
}

// ConsoleNotificationHandler logs every alert transition via slog,
// mirroring realtime_alerts.py's console_notification_handler.
func ConsoleNotificationHandler(logger *slog.Logger) NotificationHandler {
	return func(a Alert) {
		logger.Warn("alert transition", "rule", a.RuleName, "status", a.Status, "message", a.Message, "value", a.Value)
	}
}
