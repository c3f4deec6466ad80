package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/events"
	"github.com/agentfabric/fabric/internal/realtime/publish"
	"github.com/google/uuid"
)

// workflowStages is the ordered stage path a workflow walks through on its
// way to completion (spec.md §4.5).
var workflowStages = []string{"initializing", "preparing", "executing", "post-processing", "finalizing"}

// Milestone is one weighted checkpoint in a workflow's stage path.
type Milestone struct {
	ID        string
	Name      string
	Stage     string
	Weight    float64
	Completed bool
}

// Workflow is a milestone-weighted, multi-step unit of progress tracking
// (spec.md §3 "Workflow"). Σ Milestones[i].Weight must equal 1 ± ε.
type Workflow struct {
	WorkflowID   string
	Type         string
	UserID       string
	Status       events.WorkflowStatus
	Stage        string
	CurrentStep  string
	StepsDone    int
	StepsTotal   *int
	Milestones   []Milestone
	StartedAt    time.Time
	LastUpdateAt time.Time
	CancelReason string
}

func (w Workflow) progress() float64 {
	var sum float64
	for _, m := range w.Milestones {
		if m.Completed {
			sum += m.Weight
		}
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

func (w Workflow) estimatedCompletion(now time.Time) *time.Time {
	p := w.progress()
	if p <= 0 {
		return nil
	}
	elapsed := now.Sub(w.StartedAt)
	total := time.Duration(float64(elapsed) / p)
	completion := w.StartedAt.Add(total)
	return &completion
}

// WorkflowTracker extends Operation Tracker semantics with ordered stage
// transitions and milestone-weighted progress (spec.md §4.5).
type WorkflowTracker struct {
	cfg       Config
	clock     *events.Clock
	publisher *publish.Publisher
	logger    *slog.Logger

	autoPublish bool

	mu        sync.Mutex
	workflows map[string]*Workflow
}

// NewWorkflowTracker constructs a Workflow Tracker. autoPublish controls
// whether a WorkflowProgress event is emitted on every state mutation.
func NewWorkflowTracker(cfg Config, clock *events.Clock, publisher *publish.Publisher, logger *slog.Logger, autoPublish bool) *WorkflowTracker {
	cfg.setDefaults()
	return &WorkflowTracker{
		cfg:         cfg,
		clock:       clock,
		publisher:   publisher,
		logger:      logger,
		autoPublish: autoPublish,
		workflows:   make(map[string]*Workflow),
	}
}

var (
	// ErrUnknownWorkflow is returned when a workflow_id has no active record.
	ErrUnknownWorkflow = fmt.Errorf("feedback: unknown workflow")
	// ErrWeightsNotNormalized is returned when milestone weights don't sum to ~1.
	ErrWeightsNotNormalized = fmt.Errorf("feedback: milestone weights must sum to 1")
	// ErrUnknownMilestone is returned when a milestone_id isn't part of the workflow.
	ErrUnknownMilestone = fmt.Errorf("feedback: unknown milestone")
)

const weightEpsilon = 1e-6

// StartWorkflow creates a tracked workflow with its milestone plan and
// emits the initial WorkflowProgress event.
func (wt *WorkflowTracker) StartWorkflow(ctx context.Context, workflowType, userID string, milestones []Milestone, stepsTotal *int) (string, error) {
	var sum float64
	for _, m := range milestones {
		sum += m.Weight
	}
	if len(milestones) > 0 && (sum < 1-weightEpsilon || sum > 1+weightEpsilon) {
		return "", ErrWeightsNotNormalized
	}

	id := uuid.NewString()
	now := time.Now()
	wf := &Workflow{
		WorkflowID:   id,
		Type:         workflowType,
		UserID:       userID,
		Status:       events.WorkflowRunning,
		Stage:        workflowStages[0],
		Milestones:   milestones,
		StepsTotal:   stepsTotal,
		StartedAt:    now,
		LastUpdateAt: now,
	}

	wt.mu.Lock()
	wt.workflows[id] = wf
	wt.mu.Unlock()

	wt.publishIfEnabled(ctx, *wf)
	return id, nil
}

// AdvanceStage moves a workflow forward along the ordered stage path.
// Returns an error if stage is not a valid step in that path, if it lies
// before the workflow's current stage, or if the workflow has finished.
func (wt *WorkflowTracker) AdvanceStage(ctx context.Context, workflowID, stage string) error {
	next := -1
	for i, s := range workflowStages {
		if s == stage {
			next = i
			break
		}
	}
	if next < 0 {
		return fmt.Errorf("feedback: %q is not a valid workflow stage", stage)
	}

	wt.mu.Lock()
	wf, ok := wt.workflows[workflowID]
	if !ok {
		wt.mu.Unlock()
		return ErrUnknownWorkflow
	}
	cur := -1
	for i, s := range workflowStages {
		if s == wf.Stage {
			cur = i
		}
	}
	if cur < 0 || next < cur {
		wt.mu.Unlock()
		return fmt.Errorf("feedback: cannot move workflow from stage %q to %q", wf.Stage, stage)
	}
	wf.Stage = stage
	wf.LastUpdateAt = time.Now()
	snapshot := *wf
	wt.mu.Unlock()

	wt.publishIfEnabled(ctx, snapshot)
	return nil
}

// CompleteMilestone marks milestoneID completed and recomputes progress as
// the sum of completed weights (spec.md §4.5).
func (wt *WorkflowTracker) CompleteMilestone(ctx context.Context, workflowID, milestoneID string) error {
	wt.mu.Lock()
	wf, ok := wt.workflows[workflowID]
	if !ok {
		wt.mu.Unlock()
		return ErrUnknownWorkflow
	}

	found := false
	for i := range wf.Milestones {
		if wf.Milestones[i].ID == milestoneID {
			wf.Milestones[i].Completed = true
			wf.CurrentStep = wf.Milestones[i].Name
			found = true
			break
		}
	}
	if !found {
		wt.mu.Unlock()
		return ErrUnknownMilestone
	}
	wf.StepsDone++
	wf.LastUpdateAt = time.Now()
	snapshot := *wf
	wt.mu.Unlock()

	wt.publishIfEnabled(ctx, snapshot)
	return nil
}

// CompleteWorkflow transitions a workflow to completed or failed and emits
// a final WorkflowProgress event.
func (wt *WorkflowTracker) CompleteWorkflow(ctx context.Context, workflowID string, success bool) error {
	wt.mu.Lock()
	wf, ok := wt.workflows[workflowID]
	if !ok {
		wt.mu.Unlock()
		return ErrUnknownWorkflow
	}
	if success {
		wf.Status = events.WorkflowCompleted
		wf.Stage = "completed"
		for i := range wf.Milestones {
			wf.Milestones[i].Completed = true
		}
	} else {
		wf.Status = events.WorkflowFailed
		wf.Stage = "failed"
	}
	wf.LastUpdateAt = time.Now()
	snapshot := *wf
	delete(wt.workflows, workflowID)
	wt.mu.Unlock()

	wt.publishIfEnabled(ctx, snapshot)
	return nil
}

// CancelWorkflow transitions a workflow to cancelled with a reason.
func (wt *WorkflowTracker) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	wt.mu.Lock()
	wf, ok := wt.workflows[workflowID]
	if !ok {
		wt.mu.Unlock()
		return ErrUnknownWorkflow
	}
	wf.Status = events.WorkflowCancelled
	wf.CancelReason = reason
	wf.LastUpdateAt = time.Now()
	snapshot := *wf
	delete(wt.workflows, workflowID)
	wt.mu.Unlock()

	wt.publishIfEnabled(ctx, snapshot)
	return nil
}

// Get returns a snapshot of workflowID's current state.
func (wt *WorkflowTracker) Get(workflowID string) (Workflow, bool) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wf, ok := wt.workflows[workflowID]
	if !ok {
		return Workflow{}, false
	}
	return *wf, true
}

func (wt *WorkflowTracker) publishIfEnabled(ctx context.Context, wf Workflow) {
	if !wt.autoPublish || wt.publisher == nil {
		return
	}

	now := time.Now()
	progress := wf.progress()
	stepsDone := wf.StepsDone

	var estimated *float64
	if completion := wf.estimatedCompletion(now); completion != nil {
		secs := completion.Sub(now).Seconds()
		estimated = &secs
	}

	env, err := events.NewWorkflowProgressEvent(wt.clock, wt.cfg.Source, wf.UserID, events.WorkflowProgressPayload{
		WorkflowID:          wf.WorkflowID,
		WorkflowType:        wf.Type,
		Status:              wf.Status,
		ProgressPercentage:  progress * 100,
		CurrentStep:         wf.CurrentStep,
		TotalSteps:          wf.StepsTotal,
		CompletedSteps:      &stepsDone,
		EstimatedCompletion: estimated,
	})
	if err != nil {
		wt.logger.Warn("failed to build workflow progress event", "workflow_id", wf.WorkflowID, "error", err)
		return
	}
	if err := wt.publisher.Publish(ctx, env); err != nil {
		wt.logger.Warn("failed to publish workflow progress event", "workflow_id", wf.WorkflowID, "error", err)
	}
}
