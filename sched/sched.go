package sched

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/rcrowley/go-metrics"
)

// Options are per-job overrides for PleaseExecute and PleaseExecuteAndWait.
type Options struct {
	// Label names the job in logs, reports and log file names.
	Label string
	// CPUWeight is the job's requested cpu reservation. Zero means the
	// configured numcpus.
	CPUWeight int
	// Timeout kills the job after this wall clock and marks it FAILED
	// with a timeout cause. Zero means no deadline.
	Timeout time.Duration
}

// NewScheduler builds a scheduler around the backend chosen by
// SelectExecutor. Pipeline code holds the returned instance and passes it
// into every stage; there is no ambient scheduler state.
func NewScheduler(cfg *Config) *Scheduler {
	reg := metrics.NewRegistry()
	table := NewJobTable()
	return New(cfg, table, SelectExecutor(cfg, table, reg), reg)
}

// New wires a scheduler from explicit parts. Tests use this to swap in a
// specific executor.
func New(cfg *Config, table *JobTable, ex Executor, reg metrics.Registry) *Scheduler {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Scheduler{
		cfg:       cfg,
		table:     table,
		exec:      ex,
		reg:       reg,
		submitted: metrics.GetOrRegisterCounter("jobs.submitted", reg),
		failed:    metrics.GetOrRegisterCounter("jobs.failed", reg),
		succeeded: metrics.GetOrRegisterCounter("jobs.succeeded", reg),
		batchWait: metrics.GetOrRegisterTimer("batch.wait", reg),
	}
}

// Scheduler accepts opaque shell commands, dispatches them through one
// backend, and joins them at batch barriers. One coordinating goroutine
// drives it; PleaseExecute never blocks, WrapItUp and PleaseExecuteAndWait
// are the only blocking calls.
type Scheduler struct {
	cfg   *Config
	table *JobTable
	exec  Executor
	reg   metrics.Registry

	submitted metrics.Counter
	failed    metrics.Counter
	succeeded metrics.Counter
	batchWait metrics.Timer

	mu    sync.Mutex
	batch []JobID
}

// Config exposes the scheduler's settings store.
func (s *Scheduler) Config() *Config { return s.cfg }

// Table exposes the job table, read-only by convention.
func (s *Scheduler) Table() *JobTable { return s.table }

// Backend reports which executor was selected.
func (s *Scheduler) Backend() string { return s.exec.Name() }

// Set stores a config value. Only call between barriers; the current
// batch's jobs read the store concurrently.
func (s *Scheduler) Set(key, value string) { s.cfg.Set(key, value) }

// Get reads a config value.
func (s *Scheduler) Get(key string) string { return s.cfg.Get(key) }

// PleaseExecute submits command and returns its job id without waiting for
// completion. The command joins the current batch; the next WrapItUp
// accounts for it. A backend refusal comes back as *SubmissionError and the
// job does not join the batch.
func (s *Scheduler) PleaseExecute(command string, opts Options) (JobID, error) {
	job := s.newJob(command, opts)

	if err := s.exec.Submit(&job); err != nil {
		s.table.Complete(job.ID, -1, CauseSubmission)
		s.failed.Inc(1)
		log.WithFields(log.Fields{"jobID": job.ID, "label": job.Label, "error": err}).Error("Submission refused")
		return job.ID, err
	}

	s.mu.Lock()
	s.batch = append(s.batch, job.ID)
	s.mu.Unlock()
	s.submitted.Inc(1)
	log.WithFields(log.Fields{
		"jobID":   job.ID,
		"label":   job.Label,
		"backend": s.exec.Name(),
	}).Debug("Job submitted")
	return job.ID, nil
}

// PleaseExecuteAndWait submits a single job and blocks until it finishes,
// returning its exit code verbatim. The job is its own batch and never
// mixes with jobs awaiting WrapItUp.
func (s *Scheduler) PleaseExecuteAndWait(command string, opts Options) (int, error) {
	job := s.newJob(command, opts)
	s.submitted.Inc(1)

	code, err := s.exec.SubmitAndWait(&job)
	if err != nil {
		s.table.Complete(job.ID, -1, CauseSubmission)
		s.failed.Inc(1)
		return -1, err
	}
	if code == 0 {
		s.succeeded.Inc(1)
	} else {
		s.failed.Inc(1)
	}
	return code, nil
}

// WrapItUp blocks until every job submitted since the previous barrier is
// terminal, then reports the batch. An empty batch returns ok immediately.
// On failures the error is an *AggregationError listing every failed job;
// the result carries the same list. Afterwards the batch is closed and the
// next PleaseExecute starts a new one.
func (s *Scheduler) WrapItUp() (BatchResult, error) {
	s.mu.Lock()
	ids := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(ids) == 0 {
		return BatchResult{OK: true}, nil
	}

	log.WithFields(log.Fields{"jobs": len(ids), "backend": s.exec.Name()}).Info("Waiting for batch")
	start := time.Now()
	if err := s.exec.WaitBatch(ids); err != nil {
		return BatchResult{}, errors.Wrap(err, "barrier wait failed")
	}
	s.batchWait.UpdateSince(start)

	var failed []FailedJob
	for _, id := range ids {
		job, ok := s.table.Get(id)
		if !ok {
			continue
		}
		if job.State == SUCCEEDED {
			s.succeeded.Inc(1)
			continue
		}
		s.failed.Inc(1)
		f := FailedJob{
			JobID:    job.ID,
			Label:    job.Label,
			Command:  job.Command,
			ExitCode: job.ExitCode,
			Cause:    job.Cause,
			LogPath:  job.StderrPath,
		}
		failed = append(failed, f)
		log.WithFields(log.Fields{
			"jobID":    f.JobID,
			"label":    f.Label,
			"exitCode": f.ExitCode,
			"cause":    f.Cause,
			"log":      f.LogPath,
		}).Error("Job failed")
	}

	if len(failed) > 0 {
		return BatchResult{OK: false, Failed: failed}, &AggregationError{Total: len(ids), Failed: failed}
	}
	log.WithFields(log.Fields{"jobs": len(ids)}).Info("Batch succeeded")
	return BatchResult{OK: true}, nil
}

// Metrics exposes the scheduler's metrics registry.
func (s *Scheduler) Metrics() metrics.Registry { return s.reg }

func (s *Scheduler) newJob(command string, opts Options) Job {
	label := opts.Label
	if label == "" {
		label = "job"
	}
	weight := opts.CPUWeight
	if weight == 0 {
		weight = s.cfg.GetInt(KeyNumCPUs, 1)
	}

	job := s.table.NewJob(Job{
		Command:    command,
		Label:      label,
		CPUWeight:  weight,
		Dir:        s.cfg.Get(KeyWorkingDir),
		Timeout:    opts.Timeout,
		SubmitTime: time.Now(),
	})

	// Per-job logs live under the caller-supplied log dir; without one
	// the job runs with discarded output.
	if dir := s.cfg.Get(KeyLogDir); dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			log.WithFields(log.Fields{"dir": dir, "error": err}).Warn("Could not create log dir")
		}
		base := fmt.Sprintf("%s.%d", sanitizeLabel(label), job.ID)
		job.StdoutPath = filepath.Join(dir, base+".out")
		job.StderrPath = filepath.Join(dir, base+".err")
		s.table.setLogPaths(job.ID, job.StdoutPath, job.StderrPath)
	}
	return job
}
