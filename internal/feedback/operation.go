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

// Status is the terminal/non-terminal state of a tracked operation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Callback observes operation updates in-process, in addition to the
// ProgressiveFeedback event published on the bus.
type Callback func(Operation)

// Operation is a snapshot of a tracked long-running unit of work
// (spec.md §3 "Operation").
type Operation struct {
	OperationID  string
	Type         string
	UserID       string
	StartedAt    time.Time
	LastUpdateAt time.Time
	Stage        string
	Progress     float64 // fraction in [0,1]
	StepsTotal   *int
	StepsDone    int
	Status       Status
	UpdateCount  int
	Estimated    *time.Time
	ErrorMessage string
	Intermediate map[string]any
}

func (o Operation) estimatedRemaining(now time.Time) *float64 {
	if o.Estimated != nil {
		remaining := o.Estimated.Sub(now).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		return &remaining
	}
	if o.Progress > 0 {
		elapsed := now.Sub(o.StartedAt).Seconds()
		total := elapsed / o.Progress
		remaining := total - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return &remaining
	}
	return nil
}

func cloneIntermediate(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Config carries Operation Tracker tunables mirroring
// ProgressiveFeedbackManager's constructor arguments.
type Config struct {
	Source                 string
	MaxUpdatesPerOperation  int
	CleanupInterval         time.Duration
	OperationTimeout        time.Duration
	StreamIntermediateResults bool
}

func (c *Config) setDefaults() {
	if c.MaxUpdatesPerOperation <= 0 {
		c.MaxUpdatesPerOperation = 100
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = time.Hour
	}
	if c.Source == "" {
		c.Source = "operation_tracker"
	}
}

// Tracker is the Operation Tracker: it owns the active-operation map and
// publishes ProgressiveFeedback events as operations advance.
type Tracker struct {
	cfg       Config
	clock     *events.Clock
	publisher *publish.Publisher
	logger    *slog.Logger

	mu         sync.Mutex
	operations map[string]*Operation
	callbacks  map[string]map[int]Callback
	nextToken  int

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewTracker constructs an Operation Tracker. publisher may be nil in
// tests that only exercise the state machine.
func NewTracker(cfg Config, clock *events.Clock, publisher *publish.Publisher, logger *slog.Logger) *Tracker {
	cfg.setDefaults()
	return &Tracker{
		cfg:        cfg,
		clock:      clock,
		publisher:  publisher,
		logger:     logger,
		operations: make(map[string]*Operation),
		callbacks:  make(map[string]map[int]Callback),
		done:       make(chan struct{}),
	}
}

// Start launches the background staleness sweep (spec.md §4.4).
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.cleanupLoop()
}

// Stop halts the sweep and fails every still-active operation, mirroring
// ProgressiveFeedbackManager.stop()'s shutdown drain.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()

	t.mu.Lock()
	ids := make([]string, 0, len(t.operations))
	for id := range t.operations {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		_ = t.FailOperation(ctx, id, "manager_shutdown", nil)
	}
}

func (t *Tracker) cleanupLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.sweepStale()
		}
	}
}

func (t *Tracker) sweepStale() {
	now := time.Now()

	t.mu.Lock()
	var stale []string
	for id, op := range t.operations {
		if now.Sub(op.StartedAt) > t.cfg.OperationTimeout || now.Sub(op.LastUpdateAt) > t.cfg.CleanupInterval*2 {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()

	for _, id := range stale {
		if err := t.FailOperation(context.Background(), id, "stale", map[string]any{"cleanup_reason": "timeout_or_stale"}); err != nil {
			t.logger.Warn("failed to fail stale operation", "operation_id", id, "error", err)
		}
	}
	if len(stale) > 0 {
		t.logger.Info("cleaned up stale operations", "count", len(stale))
	}
}

// StartOperation creates a tracked operation and emits its initial
// ProgressiveFeedback event.
func (t *Tracker) StartOperation(ctx context.Context, opType, userID string, totalSteps *int, estimatedDuration *time.Duration) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	op := &Operation{
		OperationID:  id,
		Type:         opType,
		UserID:       userID,
		StartedAt:    now,
		LastUpdateAt: now,
		Stage:        "initializing",
		Status:       StatusRunning,
		StepsTotal:   totalSteps,
	}
	if estimatedDuration != nil {
		completion := now.Add(*estimatedDuration)
		op.Estimated = &completion
	}

	t.mu.Lock()
	t.operations[id] = op
	t.callbacks[id] = make(map[int]Callback)
	t.mu.Unlock()

	if err := t.emit(ctx, *op, "Operation started"); err != nil {
		t.logger.Warn("failed to publish operation start event", "operation_id", id, "error", err)
	}
	return id, nil
}

// UpdateOptions carries the optional fields of an update call; nil means
// "leave unchanged" (spec.md §4.4).
type UpdateOptions struct {
	Stage               *string
	Message             string
	Progress            *float64
	StepsDone           *int
	EstimatedCompletion *time.Time
	Intermediate        map[string]any
}

var (
	// ErrUnknownOperation is returned when operationID has no active record.
	ErrUnknownOperation = fmt.Errorf("feedback: unknown operation")
	// ErrUpdateLimitReached is returned once update_count reaches the configured cap.
	ErrUpdateLimitReached = fmt.Errorf("feedback: max updates reached for operation")
)

// Update mutates a running operation's progress and emits a
// ProgressiveFeedback event. Fails closed per spec.md §4.4.
func (t *Tracker) Update(ctx context.Context, operationID string, opts UpdateOptions) error {
	t.mu.Lock()
	op, ok := t.operations[operationID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownOperation
	}
	if op.UpdateCount >= t.cfg.MaxUpdatesPerOperation {
		t.mu.Unlock()
		return ErrUpdateLimitReached
	}

	op.LastUpdateAt = time.Now()
	if opts.Stage != nil {
		op.Stage = *opts.Stage
	}
	if opts.Progress != nil {
		p := *opts.Progress
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		op.Progress = p
	}
	if opts.StepsDone != nil {
		op.StepsDone = *opts.StepsDone
		if op.StepsTotal != nil && *op.StepsTotal > 0 {
			op.Progress = float64(op.StepsDone) / float64(*op.StepsTotal)
		}
	}
	if opts.EstimatedCompletion != nil {
		op.Estimated = opts.EstimatedCompletion
	}
	if len(opts.Intermediate) > 0 {
		if op.Intermediate == nil {
			op.Intermediate = make(map[string]any)
		}
		for k, v := range opts.Intermediate {
			op.Intermediate[k] = v
		}
	}
	op.UpdateCount++
	snapshot := *op
	t.mu.Unlock()

	message := opts.Message
	if message == "" {
		stage := op.Stage
		if stage == "" {
			stage = "continuing"
		}
		message = fmt.Sprintf("Progress update: %s", stage)
	}
	if err := t.emit(ctx, snapshot, message); err != nil {
		t.logger.Warn("failed to publish progress event", "operation_id", operationID, "error", err)
	}
	t.invokeCallbacks(operationID, snapshot)
	return nil
}

// Complete finalizes an operation as succeeded or failed, emits a final
// event, and removes it from the active set.
func (t *Tracker) Complete(ctx context.Context, operationID string, finalResult map[string]any, success bool, message string) error {
	t.mu.Lock()
	op, ok := t.operations[operationID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownOperation
	}

	if success {
		op.Status = StatusCompleted
		op.Progress = 1
	} else {
		op.Status = StatusFailed
	}
	if len(finalResult) > 0 {
		if op.Intermediate == nil {
			op.Intermediate = make(map[string]any)
		}
		for k, v := range finalResult {
			op.Intermediate[k] = v
		}
	}
	op.LastUpdateAt = time.Now()
	snapshot := *op
	delete(t.operations, operationID)
	callbacks := t.callbacks[operationID]
	delete(t.callbacks, operationID)
	t.mu.Unlock()

	if message == "" {
		message = "Operation completed"
	}
	if err := t.emit(ctx, snapshot, message); err != nil {
		t.logger.Warn("failed to publish completion event", "operation_id", operationID, "error", err)
	}
	for _, cb := range callbacks {
		cb(snapshot)
	}
	return nil
}

// FailOperation marks an operation failed with an error message and completes it.
func (t *Tracker) FailOperation(ctx context.Context, operationID, errMessage string, details map[string]any) error {
	t.mu.Lock()
	op, ok := t.operations[operationID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownOperation
	}
	op.ErrorMessage = errMessage
	if len(details) > 0 {
		if op.Intermediate == nil {
			op.Intermediate = make(map[string]any)
		}
		op.Intermediate["error_details"] = details
	}
	t.mu.Unlock()

	return t.Complete(ctx, operationID, nil, false, fmt.Sprintf("Operation failed: %s", errMessage))
}

// AddCallback registers an in-process observer for operationID, returning a
// token for later removal. Returns ok=false if the operation is unknown.
func (t *Tracker) AddCallback(operationID string, cb Callback) (token int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, exists := t.callbacks[operationID]
	if !exists {
		return 0, false
	}
	t.nextToken++
	token = t.nextToken
	set[token] = cb
	return token, true
}

// RemoveCallback unregisters a callback previously added with AddCallback.
func (t *Tracker) RemoveCallback(operationID string, token int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.callbacks[operationID]; ok {
		delete(set, token)
	}
}

func (t *Tracker) invokeCallbacks(operationID string, op Operation) {
	t.mu.Lock()
	set := t.callbacks[operationID]
	cbs := make([]Callback, 0, len(set))
	for _, cb := range set {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(op)
	}
}

// Get returns a snapshot of operationID's current state.
func (t *Tracker) Get(operationID string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.operations[operationID]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// Active returns snapshots of all active operations, optionally filtered
// by user_id.
func (t *Tracker) Active(userID string) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, 0, len(t.operations))
	for _, op := range t.operations {
		if userID == "" || op.UserID == userID {
			out = append(out, *op)
		}
	}
	return out
}

func (t *Tracker) emit(ctx context.Context, op Operation, message string) error {
	if t.publisher == nil {
		return nil
	}
	now := time.Now()

	var intermediate map[string]any
	if t.cfg.StreamIntermediateResults {
		intermediate = cloneIntermediate(op.Intermediate)
	}

	env, err := events.NewProgressiveFeedbackEvent(t.clock, t.cfg.Source, op.UserID, events.ProgressiveFeedbackPayload{
		OperationID:        op.OperationID,
		OperationType:      op.Type,
		Stage:              op.Stage,
		Message:            message,
		ProgressPercentage: op.Progress * 100,
		IntermediateResult: intermediate,
		EstimatedRemaining: op.estimatedRemaining(now),
	})
	if err != nil {
		return err
	}
	return t.publisher.Publish(ctx, env)
}
