package domain

import "net/http"

// RecordStatus is the lifecycle state of a record.
type RecordStatus string

const (
	RecordStatusCreated           RecordStatus = "Created"
	RecordStatusProcessed         RecordStatus = "Processed"
	RecordStatusInvalid           RecordStatus = "Invalid"
	RecordStatusPermanentlyFailed RecordStatus = "PermanentlyFailed"
)

// IsTerminal reports whether no further submission will happen for the status.
func (s RecordStatus) IsTerminal() bool {
	switch s {
	case RecordStatusProcessed, RecordStatusInvalid, RecordStatusPermanentlyFailed:
		return true
	}
	return false
}

func (s RecordStatus) Valid() bool {
	return s == RecordStatusCreated || s.IsTerminal()
}

// Record is a single billing record (CDR) to deliver downstream.
type Record struct {
	ID        string       `json:"id"`
	Data      string       `json:"data"`
	FailCount int          `json:"fail_count"`
	Status    RecordStatus `json:"status"`
}

// NewRecord returns a fresh record awaiting its first submission.
func NewRecord(id, data string) Record {
	return Record{ID: id, Data: data, Status: RecordStatusCreated}
}

// Transition returns a copy of r with the given status and fail count.
func (r Record) Transition(status RecordStatus, failCount int) Record {
	r.Status = status
	r.FailCount = failCount
	return r
}

// OutcomeClass groups submission outcomes by how the orchestrator reacts.
type OutcomeClass int

const (
	OutcomeTransient OutcomeClass = iota
	OutcomeSuccess
	OutcomeRejected
)

func (c OutcomeClass) String() string {
	switch c {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// SubmissionOutcome is the result of posting one record downstream.
type SubmissionOutcome struct {
	Succeeded   bool   `json:"succeeded"`
	StatusCode  int    `json:"status_code"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Classify maps the outcome to success, permanent rejection (422) or transient.
func (o SubmissionOutcome) Classify() OutcomeClass {
	switch {
	case o.Succeeded:
		return OutcomeSuccess
	case o.StatusCode == http.StatusUnprocessableEntity:
		return OutcomeRejected
	default:
		return OutcomeTransient
	}
}

// OrchestrationInput starts a single-record orchestration.
type OrchestrationInput struct {
	RecordID         string `json:"record_id"`
	RecordData       string `json:"record_data"`
	InitialFailCount int    `json:"initial_fail_count"`
}

// OrchestrationOutput is the terminal result of a single-record orchestration.
type OrchestrationOutput struct {
	RecordID    string       `json:"record_id"`
	FinalStatus RecordStatus `json:"final_status"`
}
