package sched

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/rcrowley/go-metrics"
)

var qsubJobIDRe = regexp.MustCompile(`Your job (\d+)`)

// NewGridEngineExecutor creates an Executor that submits through qsub and
// tracks completion with qstat polls plus per-job exit sentinels.
func NewGridEngineExecutor(cfg *Config, table *JobTable, reg metrics.Registry) *GridEngineExecutor {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &GridEngineExecutor{
		cfg:   cfg,
		table: table,
		jobs:  make(map[JobID]*sgeJob),
		polls: metrics.GetOrRegisterCounter("sge.polls", reg),

		// Polling cadence is not a contract; these are the documented
		// defaults and both ends are adjustable.
		PollInitial: time.Second,
		PollMax:     30 * time.Second,

		VanishedPolls: 5,
	}
}

// GridEngineExecutor runs jobs through a grid-engine batch scheduler. The
// engine's own admission queue enforces concurrency; we wrap each command in
// a submission script that records the exit code in a sentinel file, because
// a job that has left qstat's output tells us nothing else about how it
// ended.
type GridEngineExecutor struct {
	cfg   *Config
	table *JobTable
	polls metrics.Counter

	PollInitial time.Duration
	PollMax     time.Duration

	// How many consecutive polls a job may be absent from qstat with no
	// exit sentinel before we give up on it. Covers the window between
	// qsub accepting a job and qstat first showing it.
	VanishedPolls int

	mu   sync.Mutex
	jobs map[JobID]*sgeJob
}

type sgeJob struct {
	sgeID    string
	script   string
	sentinel string
	misses   int
}

func (e *GridEngineExecutor) Name() string { return "sge" }

func (e *GridEngineExecutor) Submit(job *Job) error {
	script, sentinel, err := e.writeScript(job)
	if err != nil {
		return NewSubmissionError(job, err)
	}

	argv := e.qsubArgv(job, script)
	log.WithFields(log.Fields{"jobID": job.ID, "label": job.Label, "argv": argv}).Debug("Submitting to grid engine")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = job.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(script)
		os.Remove(sentinel)
		return NewSubmissionError(job, errors.Wrapf(err, "qsub refused the job: %s", strings.TrimSpace(string(out))))
	}

	sgeID := ""
	if m := qsubJobIDRe.FindStringSubmatch(string(out)); m != nil {
		sgeID = m[1]
	} else {
		log.WithFields(log.Fields{"jobID": job.ID, "output": string(out)}).Warn("Could not parse qsub job id")
	}

	e.mu.Lock()
	e.jobs[job.ID] = &sgeJob{sgeID: sgeID, script: script, sentinel: sentinel}
	e.mu.Unlock()

	e.table.Advance(job.ID, SUBMITTED)
	log.WithFields(log.Fields{"jobID": job.ID, "sgeID": sgeID, "label": job.Label}).Info("Job admitted by grid engine")
	return nil
}

func (e *GridEngineExecutor) SubmitAndWait(job *Job) (int, error) {
	if err := e.Submit(job); err != nil {
		return -1, err
	}
	if err := e.WaitBatch([]JobID{job.ID}); err != nil {
		return -1, err
	}
	done, _ := e.table.Get(job.ID)
	return done.ExitCode, nil
}

// WaitBatch polls qstat on a backoff schedule until every job has written
// its exit sentinel or vanished from the queue for too long.
func (e *GridEngineExecutor) WaitBatch(ids []JobID) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.PollInitial
	b.MaxInterval = e.PollMax
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // poll until the batch resolves

	for {
		pending := e.pollOnce(ids)
		if pending == 0 {
			break
		}
		time.Sleep(b.NextBackOff())
	}

	if !e.cfg.GetBool(KeyKeep) {
		e.cleanup(ids)
	}
	return nil
}

// pollOnce runs one qstat pass over ids and returns how many are still
// unresolved.
func (e *GridEngineExecutor) pollOnce(ids []JobID) int {
	e.polls.Inc(1)
	queued, qstatOK := e.qstat()

	pending := 0
	for _, id := range ids {
		job, ok := e.table.Get(id)
		if !ok || job.State.IsDone() {
			continue
		}

		e.mu.Lock()
		sj := e.jobs[id]
		e.mu.Unlock()
		if sj == nil {
			// Never accepted by qsub; nothing will resolve it here.
			e.table.Complete(id, -1, CauseSubmission)
			continue
		}

		if code, found := readSentinel(sj.sentinel); found {
			e.table.Complete(id, code, "")
			continue
		}

		state, inQueue := queued[sj.sgeID]
		if inQueue {
			sj.misses = 0
			if strings.Contains(state, "r") {
				e.table.Advance(id, RUNNING)
			}
		} else if qstatOK {
			sj.misses++
			if sj.misses >= e.VanishedPolls {
				e.table.Complete(id, -1, "job left the grid-engine queue without an exit status")
				continue
			}
		}
		pending++
	}
	return pending
}

// qstat returns sge-id -> state for every job visible in the queue. The
// second return is false when qstat itself failed, in which case absence
// from the map means nothing.
func (e *GridEngineExecutor) qstat() (map[string]string, bool) {
	out, err := exec.Command("qstat").Output()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("qstat failed, will poll again")
		return nil, false
	}
	queued := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue // header or separator line
		}
		queued[fields[0]] = fields[4]
	}
	return queued, true
}

// writeScript materializes the submission script. The script runs the
// command, then records the exit code in the sentinel so completion and
// outcome survive the job leaving the queue.
func (e *GridEngineExecutor) writeScript(job *Job) (script, sentinel string, err error) {
	dir := filepath.Join(e.cfg.Get(KeyWorkingDir), ".sge-scripts")
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", "", errors.Wrap(err, "could not create script dir")
	}

	u, err := uuid.NewV4()
	if err != nil {
		return "", "", errors.Wrap(err, "could not name submission script")
	}
	base := fmt.Sprintf("%s.%s", sanitizeLabel(job.Label), u.String())
	script = filepath.Join(dir, base+".sh")
	sentinel = filepath.Join(dir, base+".rc")

	body := fmt.Sprintf("#!/bin/sh\n%s\nrc=$?\necho $rc > %s\nexit $rc\n", job.Command, sentinel)
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		return "", "", errors.Wrap(err, "could not write submission script")
	}
	return script, sentinel, nil
}

func (e *GridEngineExecutor) qsubArgv(job *Job, script string) []string {
	stdout, stderr := job.StdoutPath, job.StderrPath
	if stdout == "" {
		stdout = os.DevNull
	}
	if stderr == "" {
		stderr = os.DevNull
	}
	argv := []string{"qsub", "-S", "/bin/sh", "-N", sanitizeLabel(job.Label), "-cwd",
		"-o", stdout, "-e", stderr}
	if q := e.cfg.Get(KeyQueue); q != "" {
		argv = append(argv, "-q", q)
	}
	if job.CPUWeight > 1 {
		argv = append(argv, "-pe", "smp", strconv.Itoa(job.CPUWeight))
	}
	if xopts := e.cfg.Get(KeyQsubXOpts); xopts != "" {
		argv = append(argv, strings.Fields(xopts)...)
	}
	return append(argv, script)
}

func (e *GridEngineExecutor) cleanup(ids []JobID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if sj := e.jobs[id]; sj != nil {
			os.Remove(sj.script)
			os.Remove(sj.sentinel)
			delete(e.jobs, id)
		}
	}
}

func readSentinel(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Partially written; pick it up next poll.
		return 0, false
	}
	return code, true
}

// sanitizeLabel makes a label safe for qsub -N and file names.
func sanitizeLabel(label string) string {
	if label == "" {
		return "job"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, label)
}
