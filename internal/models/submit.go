package models

// SubmitOutcome classifies the result of asking the ingestion service to start a job.
type SubmitOutcome int

const (
	// SubmitOK means a new ingestion job was accepted.
	SubmitOK SubmitOutcome = iota
	// SubmitConflict means the service refused because a job is already running.
	SubmitConflict
	// SubmitError is any other failure.
	SubmitError
)

// String implements fmt.Stringer.
func (o SubmitOutcome) String() string {
	switch o {
	case SubmitOK:
		return "ok"
	case SubmitConflict:
		return "conflict"
	default:
		return "error"
	}
}

// SubmitResult is the tagged result of an ingestion job submission.
// JobID is set only for SubmitOK; Err only for SubmitError.
type SubmitResult struct {
	Outcome SubmitOutcome
	JobID   string
	Err     error
}

// Submitted returns an OK result for the given job.
func Submitted(jobID string) SubmitResult {
	return SubmitResult{Outcome: SubmitOK, JobID: jobID}
}

// Conflicted returns a conflict result.
func Conflicted() SubmitResult {
	return SubmitResult{Outcome: SubmitConflict}
}

// SubmitFailed returns an error result.
func SubmitFailed(err error) SubmitResult {
	return SubmitResult{Outcome: SubmitError, Err: err}
}
