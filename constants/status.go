package constants

// JobStatus is the canonical status for rows in ocr_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued   JobStatus = "queued"   // accepted, waiting for a worker
	JobStatusStarted  JobStatus = "started"  // claimed by a worker
	JobStatusFinished JobStatus = "finished" // all decoded pages recorded
	JobStatusFailed   JobStatus = "failed"   // whole-document failure
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusStarted, JobStatusFinished, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the job state machine.
// started -> started is allowed so a redelivered, half-processed job can be re-run.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusStarted
	case JobStatusStarted:
		return to == JobStatusStarted || to == JobStatusFinished || to == JobStatusFailed
	}
	return false
}

// PageOutcome is the per-page extraction result.
type PageOutcome string

const (
	PageOutcomeOK              PageOutcome = "ok"
	PageOutcomeTimeout         PageOutcome = "timeout"
	PageOutcomeExtractionError PageOutcome = "extraction_error"
)
