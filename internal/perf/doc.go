// Package perf implements the Latency Monitor and Alert Manager: bounded
// per-operation-type sample rings with rolling percentile statistics,
// rule-based bottleneck identification, and threshold-crossing alert
// evaluation with cooldown-suppressed notification delivery. Grounded on
// agent_orchestration/performance/analytics.py (bottleneck rules) and
// monitoring/realtime_alerts.py (AlertManager).
package perf
