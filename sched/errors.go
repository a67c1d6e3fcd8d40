package sched

import (
	"fmt"
	"strings"
)

// SubmissionError means the backend refused or failed to accept a job. It is
// returned directly from PleaseExecute/PleaseExecuteAndWait, never deferred
// to the barrier.
type SubmissionError struct {
	JobID   JobID
	Label   string
	Command string
	Err     error
}

func NewSubmissionError(job *Job, err error) *SubmissionError {
	return &SubmissionError{JobID: job.ID, Label: job.Label, Command: job.Command, Err: err}
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("could not submit job %d (%s): %v", e.JobID, e.Label, e.Err)
}

func (e *SubmissionError) Cause() error { return e.Err }

// FailedJob is one entry in a barrier's failure report.
type FailedJob struct {
	JobID    JobID
	Label    string
	Command  string
	ExitCode int
	Cause    string
	// Where the job's stderr went, for post-mortem inspection.
	LogPath string
}

// BatchResult summarizes a closed batch.
type BatchResult struct {
	OK     bool
	Failed []FailedJob
}

// AggregationError is returned by WrapItUp when one or more jobs in the
// batch failed. It carries the full failed-job list.
type AggregationError struct {
	Total  int
	Failed []FailedJob
}

func (e *AggregationError) Error() string {
	labels := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		labels = append(labels, fmt.Sprintf("%s(#%d rc=%d)", f.Label, f.JobID, f.ExitCode))
	}
	return fmt.Sprintf("%d of %d jobs failed: %s", len(e.Failed), e.Total, strings.Join(labels, ", "))
}
