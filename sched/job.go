package sched

import (
	"fmt"
	"time"
)

// JobID identifies one submitted command. IDs are assigned monotonically by
// the job table and are never reused within a scheduler's lifetime.
type JobID int64

type JobState int

const (
	// An unambiguous 0-value.
	UNKNOWN JobState = iota
	// Accepted by the scheduler, not yet handed to the backend.
	PENDING
	// Accepted by the backend (on the local queue, or admitted by qsub).
	SUBMITTED
	// Observed executing.
	RUNNING

	// States below are end states.
	// A job in an end state will not change its state.

	// Exited zero.
	SUCCEEDED
	// Exited nonzero, could not be started, or timed out (see Job.Cause).
	FAILED
)

func (s JobState) IsDone() bool {
	return s == SUCCEEDED || s == FAILED
}

func (s JobState) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case PENDING:
		return "PENDING"
	case SUBMITTED:
		return "SUBMITTED"
	case RUNNING:
		return "RUNNING"
	case SUCCEEDED:
		return "SUCCEEDED"
	case FAILED:
		return "FAILED"
	default:
		panic(fmt.Sprintf("Unexpected JobState %v", int(s)))
	}
}

// Failure causes recorded on Job.Cause. Execution failures carry the
// command's own stderr context instead of a fixed cause string.
const (
	CauseSubmission = "submission refused by backend"
	CauseTimeout    = "wall-clock timeout"
)

// Job is the scheduler's record of one submitted command. The command string
// is opaque; the scheduler never interprets it beyond backend wrapping.
type Job struct {
	ID        JobID
	Command   string
	Label     string
	CPUWeight int
	Dir       string
	Timeout   time.Duration

	State    JobState
	ExitCode int
	// Empty for SUCCEEDED; for FAILED, why (timeout, submission, or the
	// run mechanism's error). Nonzero exits leave Cause empty, the exit
	// code speaks for itself.
	Cause string

	StdoutPath string
	StderrPath string
	SubmitTime time.Time
}
