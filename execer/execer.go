package execer

import (
	"fmt"
	"io"
	"time"
)

// Execer runs one Unix command. It does not know about jobs, batches or
// backends; it is at the level of os/exec (or a simulation of it).

type Command struct {
	Argv    []string
	Dir     string
	EnvVars map[string]string

	Stdout io.Writer
	Stderr io.Writer

	// Kill the command after Timeout. Zero value means no deadline.
	Timeout time.Duration
}

type ProcessState int

const (
	// An unambiguous 0-value.
	UNKNOWN ProcessState = iota
	RUNNING

	// States below are end states.
	// A process in an end state will not change its state.

	// Exited on its own, yielding an exit code. Only state with an exit code.
	COMPLETE
	// The run mechanism failed; no exit code is available.
	FAILED
	// Exceeded its wall-clock deadline and was killed.
	TIMEDOUT
)

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED || s == TIMEDOUT
}

func (s ProcessState) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	case TIMEDOUT:
		return "TIMEDOUT"
	default:
		panic(fmt.Sprintf("Unexpected ProcessState %v", int(s)))
	}
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the process reaches an end state.
	Wait() ProcessStatus
	// Abort kills the process and everything in its process group.
	Abort() ProcessStatus
}

type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}
