package sched

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/rcrowley/go-metrics"

	"github.com/andrewdhuang/lyve-SET/execer"
)

const QueueFullMsg = "local work queue is full, cannot accept more work"

// Default depth of the submission queue in front of the worker pool.
const DefaultQueueCapacity = 1000

type LocalOption func(*LocalPoolExecutor)

// WithQueueCapacity bounds the submission queue at n commands.
func WithQueueCapacity(n int) LocalOption {
	return func(e *LocalPoolExecutor) { e.capacity = n }
}

// WithArgvFunc overrides how a command string becomes an argv. The default
// wraps the command for /bin/sh.
func WithArgvFunc(f func(command string) []string) LocalOption {
	return func(e *LocalPoolExecutor) { e.argv = f }
}

// NewLocalPoolExecutor creates an Executor that services a bounded queue
// with a fixed pool of workers; workers is the concurrency ceiling.
func NewLocalPoolExecutor(e execer.Execer, table *JobTable, workers int, reg metrics.Registry, opts ...LocalOption) *LocalPoolExecutor {
	if workers < 1 {
		workers = 1
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	ex := &LocalPoolExecutor{
		exec:     e,
		table:    table,
		capacity: DefaultQueueCapacity,
		argv:     shellArgv,
		running:  metrics.GetOrRegisterCounter("jobs.running", reg),
	}
	for _, opt := range opts {
		opt(ex)
	}
	ex.queue = make(chan JobID, ex.capacity)
	for i := 0; i < workers; i++ {
		ex.wg.Add(1)
		go ex.worker()
	}
	return ex
}

// LocalPoolExecutor runs jobs as subprocesses on this host. Its fixed-size
// worker pool is the concurrency ceiling; a job's individual failure never
// affects its siblings, the pool keeps draining the queue.
type LocalPoolExecutor struct {
	exec     execer.Execer
	table    *JobTable
	queue    chan JobID
	capacity int
	argv     func(command string) []string
	running  metrics.Counter
	wg       sync.WaitGroup
}

func shellArgv(command string) []string {
	return []string{"/bin/sh", "-c", command}
}

func (e *LocalPoolExecutor) Name() string { return "local" }

func (e *LocalPoolExecutor) Submit(job *Job) error {
	select {
	case e.queue <- job.ID:
		e.table.Advance(job.ID, SUBMITTED)
		return nil
	default:
		return NewSubmissionError(job, errors.New(QueueFullMsg))
	}
}

// SubmitAndWait runs the job on the calling goroutine, bypassing the queue;
// a lone job needs no coordination with siblings.
func (e *LocalPoolExecutor) SubmitAndWait(job *Job) (int, error) {
	e.table.Advance(job.ID, SUBMITTED)
	e.runJob(job.ID)
	done, _ := e.table.Get(job.ID)
	return done.ExitCode, nil
}

func (e *LocalPoolExecutor) WaitBatch(ids []JobID) error {
	e.table.WaitAll(ids)
	return nil
}

// Close stops the workers after the queue drains. Jobs already queued still
// run; Submit after Close panics, so only call it once the pipeline is done.
func (e *LocalPoolExecutor) Close() {
	close(e.queue)
	e.wg.Wait()
}

func (e *LocalPoolExecutor) worker() {
	defer e.wg.Done()
	for id := range e.queue {
		e.runJob(id)
	}
}

func (e *LocalPoolExecutor) runJob(id JobID) {
	job, ok := e.table.Get(id)
	if !ok {
		log.WithFields(log.Fields{"jobID": id}).Warn("Dequeued unknown job id")
		return
	}

	stdout, stderr, closer, err := openLogs(&job)
	if err != nil {
		e.table.Complete(id, -1, err.Error())
		return
	}
	defer closer()

	e.table.Advance(id, RUNNING)
	e.running.Inc(1)
	defer e.running.Dec(1)

	p, err := e.exec.Exec(execer.Command{
		Argv:    e.argv(job.Command),
		Dir:     job.Dir,
		Stdout:  stdout,
		Stderr:  stderr,
		Timeout: job.Timeout,
	})
	if err != nil {
		e.table.Complete(id, -1, errors.Wrap(err, "could not start command").Error())
		return
	}

	st := p.Wait()
	switch st.State {
	case execer.COMPLETE:
		e.table.Complete(id, st.ExitCode, "")
	case execer.TIMEDOUT:
		e.table.Complete(id, st.ExitCode, CauseTimeout)
	default:
		e.table.Complete(id, st.ExitCode, st.Error)
	}
}

// openLogs opens the job's stdout/stderr destinations. Jobs with no log
// paths (bare test jobs) run with discarded output.
func openLogs(job *Job) (io.Writer, io.Writer, func(), error) {
	if job.StdoutPath == "" && job.StderrPath == "" {
		return nil, nil, func() {}, nil
	}
	outF, err := os.Create(job.StdoutPath)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "could not create stdout log")
	}
	errF, err := os.Create(job.StderrPath)
	if err != nil {
		outF.Close()
		return nil, nil, nil, errors.Wrap(err, "could not create stderr log")
	}
	return outF, errF, func() { outF.Close(); errF.Close() }, nil
}
