// Package feedback implements the Operation Tracker and Workflow Tracker:
// progress state machines for long-running agent work that publish
// ProgressiveFeedback and WorkflowProgress events as they advance, grounded
// on progressive_feedback.py's ProgressiveFeedbackManager.
package feedback
