// Package audithook is a gateway extension that turns workflow lifecycle
// events into audit records.
//
// Every hook produces an [AuditEvent] with a severity (info for progress,
// warning for retries, waits and stalls, critical for terminal failures)
// and metadata such as the workflow type, step, signer and error code.
// Events go to a [Recorder]; [SlogRecorder] writes them to a structured
// logger.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionWorkflowStalled,
//	        audithook.ActionWorkflowFailed,
//	    ),
//	)
package audithook
