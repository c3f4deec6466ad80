// Package scheduler implements the Agent Profile Store and Scheduler:
// priority-queued workflow requests matched against agent capability
// profiles under one of four selection strategies, grounded on
// agent_orchestration/performance/optimization.py's
// IntelligentAgentCoordinator.
package scheduler
