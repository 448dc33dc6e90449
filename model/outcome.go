package model

import (
	"fmt"
	"time"
)

type OutcomeStatus string

const (
	StatusCompleted OutcomeStatus = "completed"
	StatusFailed    OutcomeStatus = "failed"
)

// Failure causes recorded alongside a failed outcome.
const (
	CauseTransferError         = "transfer error"
	CauseTransformBatchFailure = "transform batch failure"
	CauseVerificationFailure   = "verification failure"
	CauseRemoteQueryFailure    = "remote query failure"
)

// Outcome is a per-subject completion record. Outcomes are appended during
// verification and never mutated afterwards, only merged with remote history.
type Outcome struct {
	Subject string        `json:"subject"`
	Status  OutcomeStatus `json:"status"`
	Cause   string        `json:"cause,omitempty"`
	Time    time.Time     `json:"time"`
}

const outcomeTimeFormat = "2006-01-02 15:04:05"

// Line renders the outcome as a single run-log line. Lines are compared as
// opaque strings when merging, so the format must stay stable.
func (o Outcome) Line() string {
	if o.Status == StatusCompleted {
		return fmt.Sprintf("%s: Successfully processed %s", o.Time.Format(outcomeTimeFormat), o.Subject)
	}
	if o.Cause != "" {
		return fmt.Sprintf("%s: Failed to process (%s) %s", o.Time.Format(outcomeTimeFormat), o.Cause, o.Subject)
	}
	return fmt.Sprintf("%s: Failed to process %s", o.Time.Format(outcomeTimeFormat), o.Subject)
}
