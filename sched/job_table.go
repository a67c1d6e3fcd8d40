package sched

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// NewJobTable creates a new empty JobTable.
func NewJobTable() *JobTable {
	t := &JobTable{jobs: make(map[JobID]Job)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// JobTable is the authoritative record of every job the scheduler has
// accepted. Workers and pollers write through it concurrently; it enforces
// two rules:
//
//	a state never moves backwards
//	a terminal state is never changed
type JobTable struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   map[JobID]Job
	order  []JobID
	nextID int64
}

// NewJob registers a job in state PENDING and assigns it the next id.
func (t *JobTable) NewJob(job Job) Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	job.ID = JobID(t.nextID)
	job.State = PENDING
	t.jobs[job.ID] = job
	t.order = append(t.order, job.ID)
	return job
}

// setLogPaths records where a job's output goes. Paths are set once at
// submission and never erased.
func (t *JobTable) setLogPaths(id JobID, stdout, stderr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return
	}
	job.StdoutPath = stdout
	job.StderrPath = stderr
	t.jobs[id] = job
}

// Get returns a copy of the job's current record.
func (t *JobTable) Get(id JobID) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	return job, ok
}

// Advance moves a job forward to state. Requests that would move a job
// backwards, or out of a terminal state, are dropped.
func (t *JobTable) Advance(id JobID, state JobState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked(id, state)
}

// Complete records a terminal outcome: SUCCEEDED on a clean zero exit,
// FAILED otherwise. A job completed before it was ever observed running is
// promoted through RUNNING first so no state is skipped in its history.
func (t *JobTable) Complete(id JobID, exitCode int, cause string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok || job.State.IsDone() {
		return
	}
	if job.State < RUNNING {
		t.advanceLocked(id, RUNNING)
		job = t.jobs[id]
	}

	job.ExitCode = exitCode
	job.Cause = cause
	if exitCode == 0 && cause == "" {
		job.State = SUCCEEDED
	} else {
		job.State = FAILED
	}
	t.jobs[id] = job
	log.WithFields(log.Fields{
		"jobID":    id,
		"label":    job.Label,
		"state":    job.State,
		"exitCode": exitCode,
		"cause":    cause,
	}).Debug("Job reached terminal state")
	t.cond.Broadcast()
}

func (t *JobTable) advanceLocked(id JobID, state JobState) {
	job, ok := t.jobs[id]
	if !ok {
		log.WithFields(log.Fields{"jobID": id}).Warn("Advance for unknown job id")
		return
	}
	if job.State.IsDone() || state <= job.State {
		return
	}
	job.State = state
	t.jobs[id] = job
}

// WaitAll blocks until every listed job is in a terminal state.
func (t *JobTable) WaitAll(ids []JobID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.allDoneLocked(ids) {
		t.cond.Wait()
	}
}

func (t *JobTable) allDoneLocked(ids []JobID) bool {
	for _, id := range ids {
		if job, ok := t.jobs[id]; ok && !job.State.IsDone() {
			return false
		}
	}
	return true
}

// RunningCount reports how many jobs are currently RUNNING.
func (t *JobTable) RunningCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, job := range t.jobs {
		if job.State == RUNNING {
			n++
		}
	}
	return n
}

// StatusAll returns every job in submission order.
func (t *JobTable) StatusAll() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]Job, 0, len(t.order))
	for _, id := range t.order {
		all = append(all, t.jobs[id])
	}
	return all
}
