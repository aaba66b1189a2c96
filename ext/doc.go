// Package ext defines the extension system for the gateway.
//
// Extensions are notified of workflow lifecycle events and can react to
// them: recording metrics, writing audit logs, paging an operator when a
// workflow stalls. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnWorkflowStalled(ctx context.Context, rec *workflow.Record, err error) error {
//	    return page(ctx, rec.ID, err)
//	}
//
// # Workflow Hooks
//
//   - [WorkflowStarted] record moved from CREATED to RUNNING
//   - [WorkflowWaiting] a step is waiting on an external condition
//   - [WorkflowStalled] retries exhausted, record is resumable
//   - [WorkflowCompleted] the last step finished
//   - [WorkflowFailed] a business rule or invariant stopped the record
//
// # Step Hooks
//
//   - [StepCompleted] a step ran and the record advanced
//   - [StepReconciled] a step was found already applied on the ledger
//   - [StepRetrying] a step failed and will be retried
//
// # Other Hooks
//
//   - [Shutdown] the gateway is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. It satisfies
// workflow.Emitter, so it is installed with workflow.WithEmitter.
package ext
