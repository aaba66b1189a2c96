package audithook

// Audit event actions, one per lifecycle hook.
const (
	ActionWorkflowStarted   = "workflow.started"
	ActionWorkflowWaiting   = "workflow.waiting"
	ActionWorkflowStalled   = "workflow.stalled"
	ActionWorkflowCompleted = "workflow.completed"
	ActionWorkflowFailed    = "workflow.failed"
	ActionStepCompleted     = "step.completed"
	ActionStepReconciled    = "step.reconciled"
	ActionStepRetrying      = "step.retrying"
)

const (
	CategoryWorkflow = "gateway.workflow"
	CategoryStep     = "gateway.step"
)

// ResourceWorkflow is the Resource of every event; ResourceID is the
// workflow id.
const ResourceWorkflow = "workflow"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowStarted,
		ActionWorkflowWaiting,
		ActionWorkflowStalled,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
		ActionStepCompleted,
		ActionStepReconciled,
		ActionStepRetrying,
	}
}

// ValidAction reports whether a is one of AllActions.
func ValidAction(a string) bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}
