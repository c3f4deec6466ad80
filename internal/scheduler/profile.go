package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/realtime/publish"
)

// LoadLevel classifies an agent's current load relative to its concurrency
// ceiling (spec.md §3 "Agent Profile" derived field).
type LoadLevel string

const (
	LoadIdle       LoadLevel = "idle"
	LoadLow        LoadLevel = "low"
	LoadMedium     LoadLevel = "medium"
	LoadHigh       LoadLevel = "high"
	LoadOverloaded LoadLevel = "overloaded"
)

// AgentProfile tracks one agent's observed performance and current
// reservation load. It carries its own lock per spec.md §5's single
// writer-lock-per-profile discipline; the Scheduler and the profile
// refresher are the only writers.
type AgentProfile struct {
	mu sync.Mutex

	AgentID       string
	AgentType     string
	AvgLatency    time.Duration
	SuccessRate   float64
	Load          int
	MaxConcurrent int
	LastActivity  time.Time
	Trend         float64
	Reliability   float64
}

// NewAgentProfile constructs a profile with the original's defaults for an
// unobserved agent: perfectly reliable, no load, one second latency.
func NewAgentProfile(agentID, agentType string, maxConcurrent int) *AgentProfile {
	return &AgentProfile{
		AgentID:       agentID,
		AgentType:     agentType,
		AvgLatency:    time.Second,
		SuccessRate:   1.0,
		MaxConcurrent: maxConcurrent,
		LastActivity:  time.Now(),
		Reliability:   1.0,
	}
}

// View is an immutable snapshot of an AgentProfile, safe to read without
// the profile's lock.
type View struct {
	AgentID       string
	AgentType     string
	AvgLatency    time.Duration
	SuccessRate   float64
	Load          int
	MaxConcurrent int
	LastActivity  time.Time
	Trend         float64
	Reliability   float64
}

// Snapshot returns a consistent, lock-free copy of the profile's state.
func (p *AgentProfile) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return View{
		AgentID:       p.AgentID,
		AgentType:     p.AgentType,
		AvgLatency:    p.AvgLatency,
		SuccessRate:   p.SuccessRate,
		Load:          p.Load,
		MaxConcurrent: p.MaxConcurrent,
		LastActivity:  p.LastActivity,
		Trend:         p.Trend,
		Reliability:   p.Reliability,
	}
}

// LoadLevel classifies v.Load against v.MaxConcurrent.
func (v View) LoadLevel() LoadLevel {
	if v.Load == 0 {
		return LoadIdle
	}
	max := v.MaxConcurrent
	if max < 1 {
		max = 1
	}
	ratio := float64(v.Load) / float64(max)
	switch {
	case ratio >= 1.0:
		return LoadOverloaded
	case ratio >= 0.8:
		return LoadHigh
	case ratio >= 0.5:
		return LoadMedium
	default:
		return LoadLow
	}
}

// Overloaded reports whether v has no spare capacity.
func (v View) Overloaded() bool {
	return v.LoadLevel() == LoadOverloaded
}

// Efficiency scores v by latency, success rate, and reliability
// (spec.md §3 "Agent Profile" derived field).
func (v View) Efficiency() float64 {
	if v.AvgLatency <= 0 {
		return 0
	}
	timeScore := 1 - v.AvgLatency.Seconds()/5.0
	if timeScore < 0 {
		timeScore = 0
	}
	return timeScore*0.4 + v.SuccessRate*0.4 + v.Reliability*0.2
}

// reserve increments load if the profile has spare capacity. Returns
// false if already at max_concurrent.
func (p *AgentProfile) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Load >= p.MaxConcurrent {
		return false
	}
	p.Load++
	return true
}

// release decrements load (floored at zero) and refreshes last_activity.
func (p *AgentProfile) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Load > 0 {
		p.Load--
	}
	p.LastActivity = time.Now()
}

// applyStats updates avg_latency, success_rate, reliability, and trend
// from a fresh rolling-window measurement (spec.md §4.6 "Profile
// refresh").
func (p *AgentProfile) applyStats(avgLatency time.Duration, successRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.AvgLatency
	p.AvgLatency = avgLatency
	p.SuccessRate = successRate
	p.Reliability = math.Min(1.0, successRate*1.1)

	oldSec := old.Seconds()
	if oldSec < 0.1 {
		oldSec = 0.1
	}
	p.Trend = (oldSec - avgLatency.Seconds()) / oldSec
}

// Store is the Agent Profile Store: shared-read, single-writer-per-profile
// map of every known agent's performance profile.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*AgentProfile
}

// NewStore constructs an empty Agent Profile Store.
func NewStore() *Store {
	return &Store{profiles: make(map[string]*AgentProfile)}
}

// Register adds or replaces an agent's profile.
func (s *Store) Register(p *AgentProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.AgentID] = p
}

// Get returns the profile for agentID, if registered.
func (s *Store) Get(agentID string) (*AgentProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	return p, ok
}

// ByType returns snapshots of every profile registered under agentType.
func (s *Store) ByType(agentType string) []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []View
	for _, p := range s.profiles {
		v := p.Snapshot()
		if v.AgentType == agentType {
			out = append(out, v)
		}
	}
	return out
}

// All returns snapshots of every registered profile.
func (s *Store) All() []View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]View, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Snapshot())
	}
	return out
}

// PublishStatus emits an AgentStatus event for every registered profile,
// carrying heartbeat_age (seconds since last_activity) — a field the
// original monitoring integration reports that spec.md's derived-field
// table omits but the event model still has room for.
func (s *Store) PublishStatus(ctx context.Context, clock *events.Clock, publisher *publish.Publisher) {
	for _, v := range s.All() {
		age := time.Since(v.LastActivity).Seconds()
		status := events.AgentIdle
		if v.Overloaded() {
			status = events.AgentBusy
		} else if v.Load > 0 {
			status = events.AgentProcessing
		}

		env, err := events.NewAgentStatusEvent(clock, "agent_profile_store", events.AgentStatusPayload{
			AgentID:      v.AgentID,
			AgentType:    v.AgentType,
			Status:       status,
			HeartbeatAge: &age,
		})
		if err != nil {
			continue
		}
		publisher.Publish(ctx, env)
	}
}
