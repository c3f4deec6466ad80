package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/fabric/internal/observability"
)

// Strategy selects one agent per required agent type (spec.md §4.6).
type Strategy string

const (
	FastestFirst Strategy = "FASTEST_FIRST"
	LoadBalanced Strategy = "LOAD_BALANCED"
	Predictive   Strategy = "PREDICTIVE"
	Adaptive     Strategy = "ADAPTIVE"
)

// Request is one workflow execution request awaiting agent assignment.
type Request struct {
	RequestID         string
	WorkflowType      string
	Priority          int // 1 (highest) .. 5 (lowest)
	EstimatedDuration time.Duration
	RequiredAgents    []string // agent types
	UserID            string
	Deadline          *time.Time
}

// Decision is a successful scheduling outcome: one agent id chosen per
// required agent type.
type Decision struct {
	RequestID           string
	SelectedAgents      map[string]string // agent_type -> agent_id
	EstimatedCompletion time.Duration
	Confidence          float64
	Reasoning           string
}

// priorityScore computes the queue ordering score: lower schedules
// earlier. Matches IntelligentAgentCoordinator._calculate_priority_score
// literally, including its deadline-urgency multiplier.
func priorityScore(r Request, now time.Time) float64 {
	score := float64(r.Priority)
	if r.Deadline != nil {
		minutesToDeadline := r.Deadline.Sub(now).Minutes()
		urgency := math.Max(0.1, 1.0/math.Max(minutesToDeadline, 1))
		score *= urgency
	}
	return score
}

type queueItem struct {
	request Request
	score   float64
	index   int
}

type requestHeap []*queueItem

func (h requestHeap) Len() int            { return len(h) }
func (h requestHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h requestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *requestHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler is the Scheduler: it holds a priority queue of pending
// requests and dispatches them against the Agent Profile Store under one
// of the four selection strategies.
type Scheduler struct {
	store    *Store
	strategy Strategy
	logger   *slog.Logger
	metrics  *observability.MetricsManager

	mu     sync.Mutex
	queue  requestHeap
	items  map[string]*queueItem // request_id -> its heap entry, while queued
	active map[string]Decision
}

// NewScheduler constructs a Scheduler bound to profile store s. metrics may
// be nil in tests; every metrics call below guards against that.
func NewScheduler(s *Store, strategy Strategy, logger *slog.Logger, metrics *observability.MetricsManager) *Scheduler {
	return &Scheduler{
		store:    s,
		strategy: strategy,
		logger:   logger,
		metrics:  metrics,
		items:    make(map[string]*queueItem),
		active:   make(map[string]Decision),
	}
}

// ErrNoAvailableAgent is returned when no strategy can find a
// non-overloaded candidate for every required agent type.
var ErrNoAvailableAgent = fmt.Errorf("scheduler: no available agent for a required type")

// Submit enqueues request and makes an immediate scheduling attempt,
// mirroring schedule_workflow's "add then try immediately" behavior. If
// no decision is possible, the request remains queued for the dispatch
// loop to retry (spec.md §4.6: "the request stays queued").
func (s *Scheduler) Submit(ctx context.Context, req Request) (*Decision, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	item := &queueItem{request: req, score: priorityScore(req, time.Now())}
	s.mu.Lock()
	heap.Push(&s.queue, item)
	s.items[req.RequestID] = item
	s.mu.Unlock()
	s.recordQueueDepth(ctx, 1)

	decision, err := s.attempt(ctx, req)
	if err != nil {
		return nil, nil //nolint:nilerr // no candidate yet: stays queued, not a caller-facing error
	}

	s.mu.Lock()
	heap.Remove(&s.queue, item.index)
	delete(s.items, req.RequestID)
	s.mu.Unlock()
	s.recordQueueDepth(ctx, -1)

	s.commit(req, *decision)
	return decision, nil
}

// commit records decision as active and reserves its agents. The caller is
// responsible for having already removed req from the queue.
func (s *Scheduler) commit(req Request, decision Decision) {
	s.reserve(decision)

	s.mu.Lock()
	s.active[req.RequestID] = decision
	s.mu.Unlock()
}

// attempt runs the configured strategy and records its outcome: a
// scheduling decision (tagged by strategy) or a scheduling failure (tagged
// by workflow type), mirroring the request/failure counters the original
// monitoring integration exposes per strategy and workflow.
func (s *Scheduler) attempt(ctx context.Context, req Request) (*Decision, error) {
	var decision *Decision
	var err error
	switch s.strategy {
	case FastestFirst:
		decision, err = s.scheduleFastestFirst(req)
	case LoadBalanced:
		decision, err = s.scheduleLoadBalanced(req)
	case Predictive:
		decision, err = s.schedulePredictive(req)
	default:
		decision, err = s.scheduleAdaptive(req)
	}

	if err != nil {
		s.recordFailed(ctx, req.WorkflowType)
		return nil, err
	}
	s.recordDecided(ctx)
	return decision, nil
}

func (s *Scheduler) recordQueueDepth(ctx context.Context, delta int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetSchedulerQueueDepth(ctx, delta)
}

func (s *Scheduler) recordDecided(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulingDecided(ctx, string(s.strategy))
}

func (s *Scheduler) recordFailed(ctx context.Context, workflowType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SchedulingFailed(ctx, workflowType)
}

func (s *Scheduler) candidates(agentType string) []View {
	var out []View
	for _, v := range s.store.ByType(agentType) {
		if !v.Overloaded() {
			out = append(out, v)
		}
	}
	return out
}

func (s *Scheduler) scheduleFastestFirst(req Request) (*Decision, error) {
	selected := make(map[string]string)
	var total time.Duration

	for _, agentType := range req.RequiredAgents {
		candidates := s.candidates(agentType)
		if len(candidates) == 0 {
			return nil, ErrNoAvailableAgent
		}
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Efficiency() > best.Efficiency() {
				best = c
			}
		}
		selected[agentType] = best.AgentID
		if best.AvgLatency > total {
			total = best.AvgLatency
		}
	}

	return &Decision{
		RequestID:           req.RequestID,
		SelectedAgents:      selected,
		EstimatedCompletion: total,
		Confidence:          0.8,
		Reasoning:           "selected fastest available agents",
	}, nil
}

func (s *Scheduler) scheduleLoadBalanced(req Request) (*Decision, error) {
	selected := make(map[string]string)
	var total time.Duration

	for _, agentType := range req.RequiredAgents {
		candidates := s.candidates(agentType)
		if len(candidates) == 0 {
			return nil, ErrNoAvailableAgent
		}
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Load < best.Load || (c.Load == best.Load && c.Efficiency() > best.Efficiency()) {
				best = c
			}
		}
		selected[agentType] = best.AgentID

		loadFactor := 1.0 + float64(best.Load)*0.2
		estimated := time.Duration(float64(best.AvgLatency) * loadFactor)
		if estimated > total {
			total = estimated
		}
	}

	return &Decision{
		RequestID:           req.RequestID,
		SelectedAgents:      selected,
		EstimatedCompletion: total,
		Confidence:          0.7,
		Reasoning:           "selected least loaded agents",
	}, nil
}

// predictAgentPerformance implements the PREDICTIVE latency model from
// spec.md §4.6.
func predictAgentPerformance(v View, estimatedDuration time.Duration, now time.Time) (predicted time.Duration, confidence float64) {
	loadFactor := 1.0 + float64(v.Load)*0.15
	trendFactor := 1.0 - v.Trend*0.1
	complexityFactor := 1.0 + math.Max(0, estimatedDuration.Hours()-1)*0.1

	predicted = time.Duration(float64(v.AvgLatency) * loadFactor * trendFactor * complexityFactor)

	minutesIdle := now.Sub(v.LastActivity).Minutes()
	activityFactor := math.Max(0.5, 1.0-minutesIdle/60)
	confidence = v.Reliability * activityFactor
	return predicted, confidence
}

func (s *Scheduler) schedulePredictive(req Request) (*Decision, error) {
	selected := make(map[string]string)
	var total time.Duration
	var confidences []float64
	now := time.Now()

	for _, agentType := range req.RequiredAgents {
		candidates := s.candidates(agentType)
		if len(candidates) == 0 {
			return nil, ErrNoAvailableAgent
		}

		var bestAgent *View
		bestPredicted := time.Duration(math.MaxInt64)
		var bestConfidence float64

		for i := range candidates {
			predicted, confidence := predictAgentPerformance(candidates[i], req.EstimatedDuration, now)
			if predicted < bestPredicted {
				bestPredicted = predicted
				bestAgent = &candidates[i]
				bestConfidence = confidence
			}
		}

		selected[agentType] = bestAgent.AgentID
		if bestPredicted > total {
			total = bestPredicted
		}
		confidences = append(confidences, bestConfidence)
	}

	var overall float64
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		overall = sum / float64(len(confidences))
	}

	return &Decision{
		RequestID:           req.RequestID,
		SelectedAgents:      selected,
		EstimatedCompletion: total,
		Confidence:          overall,
		Reasoning:           "selected agents using predictive performance modeling",
	}, nil
}

func (s *Scheduler) scheduleAdaptive(req Request) (*Decision, error) {
	systemLoad := s.systemLoad()
	variance := s.latencyVariance()

	switch {
	case systemLoad < 0.3:
		return s.scheduleFastestFirst(req)
	case systemLoad > 0.8:
		return s.scheduleLoadBalanced(req)
	case variance > 0.5:
		return s.schedulePredictive(req)
	default:
		return s.scheduleLoadBalanced(req)
	}
}

func (s *Scheduler) systemLoad() float64 {
	profiles := s.store.All()
	if len(profiles) == 0 {
		return 0
	}
	var total float64
	for _, p := range profiles {
		max := p.MaxConcurrent
		if max < 1 {
			max = 1
		}
		total += float64(p.Load) / float64(max)
	}
	return total / float64(len(profiles))
}

func (s *Scheduler) latencyVariance() float64 {
	profiles := s.store.All()
	if len(profiles) < 2 {
		return 0
	}
	var mean float64
	for _, p := range profiles {
		mean += p.AvgLatency.Seconds()
	}
	mean /= float64(len(profiles))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range profiles {
		d := p.AvgLatency.Seconds() - mean
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(len(profiles)))
	return stdev / mean
}

func (s *Scheduler) reserve(decision Decision) {
	for _, agentID := range decision.SelectedAgents {
		if p, ok := s.store.Get(agentID); ok {
			p.reserve()
		}
	}
}

// Release returns every agent in decision's assignment to the pool,
// decrementing load and refreshing last_activity (spec.md §4.6
// "Reservation").
func (s *Scheduler) Release(requestID string) {
	s.mu.Lock()
	decision, ok := s.active[requestID]
	if ok {
		delete(s.active, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, agentID := range decision.SelectedAgents {
		if p, ok := s.store.Get(agentID); ok {
			p.release()
		}
	}
}

// Dispatch drains the queue in priority order, attempting each request in
// turn. A request that still has no available agent is pushed back onto
// the queue rather than dropped (spec.md §4.6: "the request stays
// queued"). Intended to run from a periodic background loop (spec.md §5
// "scheduler loop").
func (s *Scheduler) Dispatch(ctx context.Context) int {
	s.mu.Lock()
	popped := make([]*queueItem, 0, s.queue.Len())
	for s.queue.Len() > 0 {
		popped = append(popped, heap.Pop(&s.queue).(*queueItem))
	}
	s.mu.Unlock()

	dispatched := 0
	for _, item := range popped {
		req := item.request
		decision, err := s.attempt(ctx, req)
		if err != nil || decision == nil {
			s.mu.Lock()
			heap.Push(&s.queue, item)
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		delete(s.items, req.RequestID)
		s.mu.Unlock()
		s.recordQueueDepth(ctx, -1)

		s.commit(req, *decision)
		dispatched++
	}
	return dispatched
}

// RefreshProfiles applies fresh rolling-window measurements to every
// profile in the store (spec.md §4.6 "Profile refresh"). statsFor
// returns (avg_latency, success_rate, ok) for an agent id.
func (s *Scheduler) RefreshProfiles(statsFor func(agentID string) (time.Duration, float64, bool)) {
	for _, v := range s.store.All() {
		p, ok := s.store.Get(v.AgentID)
		if !ok {
			continue
		}
		if avgLatency, successRate, ok := statsFor(v.AgentID); ok {
			p.applyStats(avgLatency, successRate)
		}
	}
}

// QueueDepth reports how many requests are still waiting for a decision.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
