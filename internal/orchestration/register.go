package orchestration

import "github.com/vietddude/writer/internal/durable"

// Register adds both orchestrations and their activities to the engine.
func Register(e *durable.Engine, w *Workflows, a *Activities) {
	durable.RegisterWorkflow(e, WorkflowProcessRecord, w.ProcessRecord)
	durable.RegisterWorkflow(e, WorkflowProcessRecords, w.ProcessRecords)

	durable.RegisterActivity(e, ActivityPostRecord, a.PostRecord)
	durable.RegisterActivity(e, ActivityUpdateRecordStatus, a.UpdateRecordStatus)
	durable.RegisterActivity(e, ActivityListRecords, a.ListRecords)
}
