package events

// Filter expresses a connection's subscription narrowing: an event must
// satisfy every populated field to reach that connection (spec.md §3
// Connection.filter, §4.3 fan-out rule #4), grounded on the original
// EventFilter model.
type Filter struct {
	AgentTypes     []string `json:"agent_types,omitempty"`
	WorkflowTypes  []string `json:"workflow_types,omitempty"`
	UserIDs        []string `json:"user_ids,omitempty"`
	SeverityLevels []string `json:"severity_levels,omitempty"`
	MinProgress    *float64 `json:"min_progress,omitempty"`
	MaxProgress    *float64 `json:"max_progress,omitempty"`
}

// IsZero reports whether f narrows nothing, i.e. every event passes.
func (f *Filter) IsZero() bool {
	if f == nil {
		return true
	}
	return len(f.AgentTypes) == 0 && len(f.WorkflowTypes) == 0 &&
		len(f.UserIDs) == 0 && len(f.SeverityLevels) == 0 &&
		f.MinProgress == nil && f.MaxProgress == nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Matches reports whether envelope e, decoded from payload fields
// relevant to the filter, passes f. A nil or zero-value filter matches
// everything. Fields f does not set are not checked.
func (f *Filter) Matches(e Envelope) bool {
	if f.IsZero() {
		return true
	}

	if len(f.UserIDs) > 0 && e.UserID != "" && !contains(f.UserIDs, e.UserID) {
		return false
	}

	switch e.EventType {
	case TypeAgentStatus:
		if len(f.AgentTypes) > 0 {
			p, err := e.DecodeAgentStatus()
			if err != nil || !contains(f.AgentTypes, p.AgentType) {
				return false
			}
		}
	case TypeWorkflowProgress:
		if len(f.WorkflowTypes) > 0 {
			p, err := e.DecodeWorkflowProgress()
			if err != nil || !contains(f.WorkflowTypes, p.WorkflowType) {
				return false
			}
		}
		if f.MinProgress != nil || f.MaxProgress != nil {
			p, err := e.DecodeWorkflowProgress()
			if err != nil {
				return false
			}
			if f.MinProgress != nil && p.ProgressPercentage < *f.MinProgress {
				return false
			}
			if f.MaxProgress != nil && p.ProgressPercentage > *f.MaxProgress {
				return false
			}
		}
	case TypeProgressiveFeedback:
		if f.MinProgress != nil || f.MaxProgress != nil {
			p, err := e.DecodeProgressiveFeedback()
			if err != nil {
				return false
			}
			if f.MinProgress != nil && p.ProgressPercentage < *f.MinProgress {
				return false
			}
			if f.MaxProgress != nil && p.ProgressPercentage > *f.MaxProgress {
				return false
			}
		}
	case TypeError:
		if len(f.SeverityLevels) > 0 {
			p, err := e.DecodeError()
			if err != nil || !contains(f.SeverityLevels, p.Severity) {
				return false
			}
		}
	}

	return true
}
