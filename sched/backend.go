package sched

import (
	"os/exec"

	log "github.com/sirupsen/logrus"
	"github.com/rcrowley/go-metrics"

	osexecer "github.com/andrewdhuang/lyve-SET/execer/os"
)

// Executor runs jobs on some backend. The two implementations are the
// grid-engine executor (qsub/qstat) and the local worker pool; callers never
// see which one is behind the scheduler's API.
type Executor interface {
	// Submit hands the job to the backend and returns immediately. A
	// refusal is a *SubmissionError; execution failures are recorded on
	// the job table instead.
	Submit(job *Job) error

	// SubmitAndWait runs a single job to completion, bypassing any
	// sibling coordination, and returns its exit code.
	SubmitAndWait(job *Job) (int, error)

	// WaitBatch blocks until every listed job is in a terminal state.
	WaitBatch(ids []JobID) error

	// Name reports the backend for logging.
	Name() string
}

// SelectExecutor decides the backend once, at startup. It probes for the
// grid-engine submission tools and falls back to the local pool when they
// are absent or the probe fails. The "scheduler" config key can force
// either backend.
func SelectExecutor(cfg *Config, table *JobTable, reg metrics.Registry) Executor {
	mode := cfg.Get(KeyScheduler)
	if mode == "" {
		mode = "auto"
	}

	if mode == "auto" {
		if gridEngineAvailable() {
			mode = "sge"
		} else {
			mode = "local"
		}
	}

	switch mode {
	case "sge":
		log.WithFields(log.Fields{"backend": "sge", "queue": cfg.Get(KeyQueue)}).Info("Selected grid-engine backend")
		return NewGridEngineExecutor(cfg, table, reg)
	default:
		ceiling := cfg.Ceiling()
		log.WithFields(log.Fields{"backend": "local", "ceiling": ceiling}).Info("Selected local pool backend")
		return NewLocalPoolExecutor(osexecer.NewExecer(), table, ceiling, reg)
	}
}

func gridEngineAvailable() bool {
	if _, err := exec.LookPath("qsub"); err != nil {
		return false
	}
	if _, err := exec.LookPath("qstat"); err != nil {
		return false
	}
	return true
}
