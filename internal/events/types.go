// Package events defines the tagged-union event envelope shared by the
// broker gateway, event publisher, and connection manager, grounded on
// the field set of the original realtime/models.py event classes.
package events

// Type is the closed set of event kinds the fabric fans out.
type Type string

const (
	TypeAgentStatus         Type = "AgentStatus"
	TypeWorkflowProgress    Type = "WorkflowProgress"
	TypeProgressiveFeedback Type = "ProgressiveFeedback"
	TypeSystemMetrics       Type = "SystemMetrics"
	TypeOptimization        Type = "Optimization"
	TypeConnectionStatus    Type = "ConnectionStatus"
	TypeError               Type = "Error"
	TypeHeartbeat           Type = "Heartbeat"
)

// Valid reports whether t is one of the closed set of event types.
func (t Type) Valid() bool {
	switch t {
	case TypeAgentStatus, TypeWorkflowProgress, TypeProgressiveFeedback,
		TypeSystemMetrics, TypeOptimization, TypeConnectionStatus,
		TypeError, TypeHeartbeat:
		return true
	default:
		return false
	}
}

// AuthTier classifies an event type for §4.3.1 authorization.
type AuthTier int

const (
	TierBasic AuthTier = iota
	TierUserScoped
	TierSystem
)

// Tier returns the authorization tier for t.
func (t Type) Tier() AuthTier {
	switch t {
	case TypeConnectionStatus, TypeHeartbeat, TypeError:
		return TierBasic
	case TypeAgentStatus, TypeWorkflowProgress, TypeProgressiveFeedback:
		return TierUserScoped
	case TypeSystemMetrics, TypeOptimization:
		return TierSystem
	default:
		return TierSystem
	}
}

// AgentStatus values (original AgentStatus enum).
type AgentStatus string

const (
	AgentOnline     AgentStatus = "online"
	AgentOffline    AgentStatus = "offline"
	AgentBusy       AgentStatus = "busy"
	AgentIdle       AgentStatus = "idle"
	AgentProcessing AgentStatus = "processing"
	AgentCompleted  AgentStatus = "completed"
	AgentDegraded   AgentStatus = "degraded"
	AgentError      AgentStatus = "error"
	AgentStarting   AgentStatus = "starting"
	AgentStopping   AgentStatus = "stopping"
)

// WorkflowStatus values (original WorkflowStatus enum).
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowPaused    WorkflowStatus = "paused"
)

// AgentStatusPayload mirrors AgentStatusEvent.
type AgentStatusPayload struct {
	AgentID         string         `json:"agent_id"`
	AgentType       string         `json:"agent_type"`
	Instance        string         `json:"instance,omitempty"`
	Status          AgentStatus    `json:"status"`
	PreviousStatus  AgentStatus    `json:"previous_status,omitempty"`
	HeartbeatAge    *float64       `json:"heartbeat_age,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// WorkflowProgressPayload mirrors WorkflowProgressEvent.
type WorkflowProgressPayload struct {
	WorkflowID           string         `json:"workflow_id"`
	WorkflowType         string         `json:"workflow_type"`
	Status               WorkflowStatus `json:"status"`
	ProgressPercentage   float64        `json:"progress_percentage"`
	CurrentStep          string         `json:"current_step,omitempty"`
	TotalSteps           *int           `json:"total_steps,omitempty"`
	CompletedSteps       *int           `json:"completed_steps,omitempty"`
	EstimatedCompletion  *float64       `json:"estimated_completion,omitempty"`
}

// SystemMetricsPayload mirrors SystemMetricsEvent.
type SystemMetricsPayload struct {
	CPUUsage          *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage       *float64 `json:"memory_usage,omitempty"`
	MemoryUsageMB     *float64 `json:"memory_usage_mb,omitempty"`
	ActiveConnections *int     `json:"active_connections,omitempty"`
	ActiveWorkflows   *int     `json:"active_workflows,omitempty"`
	MessageQueueSize  *int     `json:"message_queue_size,omitempty"`
	ResponseTimeAvg   *float64 `json:"response_time_avg,omitempty"`
	ErrorRate         *float64 `json:"error_rate,omitempty"`
}

// ProgressiveFeedbackPayload mirrors ProgressiveFeedbackEvent.
type ProgressiveFeedbackPayload struct {
	OperationID         string         `json:"operation_id"`
	OperationType        string         `json:"operation_type"`
	Stage                string         `json:"stage"`
	Message              string         `json:"message"`
	ProgressPercentage   float64        `json:"progress_percentage"`
	IntermediateResult   map[string]any `json:"intermediate_result,omitempty"`
	EstimatedRemaining   *float64       `json:"estimated_remaining,omitempty"`
}

// OptimizationPayload mirrors OptimizationEvent.
type OptimizationPayload struct {
	OptimizationType  string  `json:"optimization_type"`
	ParameterName     string  `json:"parameter_name"`
	OldValue          any     `json:"old_value"`
	NewValue          any     `json:"new_value"`
	ImprovementMetric string  `json:"improvement_metric,omitempty"`
	ImprovementValue  *float64 `json:"improvement_value,omitempty"`
	ConfidenceScore   *float64 `json:"confidence_score,omitempty"`
}

// ConnectionStatusPayload mirrors ConnectionStatusEvent.
type ConnectionStatusPayload struct {
	ConnectionID          string         `json:"connection_id"`
	Status                string         `json:"status"`
	ClientInfo            map[string]any `json:"client_info,omitempty"`
	RecoveredSubscriptions []string      `json:"recovered_subscriptions,omitempty"`
	RecoveredFilters      *Filter        `json:"recovered_filters,omitempty"`
}

// ErrorPayload mirrors ErrorEvent.
type ErrorPayload struct {
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	Severity     string         `json:"severity"`
	Component    string         `json:"component,omitempty"`
}

// HeartbeatPayload mirrors HeartbeatEvent.
type HeartbeatPayload struct {
	ConnectionID    string  `json:"connection_id"`
	ServerTimestamp float64 `json:"server_timestamp"`
	PingSeq         uint64  `json:"ping_seq,omitempty"`
}
