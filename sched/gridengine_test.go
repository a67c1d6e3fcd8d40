package sched

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Fake qsub runs the submission script in the background on this host and
// answers like a grid engine; fake qstat reports an empty queue, leaving
// completion detection to the exit sentinels.
const fakeQsub = `#!/bin/sh
for last; do :; done
out=/dev/null; err=/dev/null
prev=""
for a in "$@"; do
  case "$prev" in
    -o) out="$a";;
    -e) err="$a";;
  esac
  prev="$a"
done
if [ -n "$QSUB_RECORD" ]; then echo "$@" >> "$QSUB_RECORD"; fi
/bin/sh "$last" > "$out" 2> "$err" &
echo 'Your job 4242 ("fake") has been submitted'
`

const fakeQstatEmpty = `#!/bin/sh
exit 0
`

const fakeQstatRunning = `#!/bin/sh
echo 'job-ID  prior   name       user         state submit/start at     queue'
echo '-----------------------------------------------------------------------'
echo '   4242 0.55500 fake       tester       r     08/23/2026 12:00:00 all.q@node1'
`

func installFakeSGE(t *testing.T, qstatScript string) {
	t.Helper()
	bin := t.TempDir()
	for name, body := range map[string]string{"qsub": fakeQsub, "qstat": qstatScript} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte(body), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newSGEScheduler(t *testing.T) (*Scheduler, *GridEngineExecutor) {
	t.Helper()
	cfg := NewConfig()
	cfg.Set(KeyWorkingDir, t.TempDir())
	cfg.Set(KeyLogDir, filepath.Join(t.TempDir(), "log"))
	table := NewJobTable()
	ex := NewGridEngineExecutor(cfg, table, nil)
	ex.PollInitial = 20 * time.Millisecond
	ex.PollMax = 100 * time.Millisecond
	return New(cfg, table, ex, nil), ex
}

func TestGridEngineBatch(t *testing.T) {
	installFakeSGE(t, fakeQstatEmpty)
	s, _ := newSGEScheduler(t)

	if _, err := s.PleaseExecute("exit 0", Options{Label: "good"}); err != nil {
		t.Fatal(err)
	}
	badID, err := s.PleaseExecute("exit 3", Options{Label: "bad"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.WrapItUp()
	if result.OK || len(result.Failed) != 1 {
		t.Fatalf("unexpected result: %s", spew.Sdump(result))
	}
	if result.Failed[0].JobID != badID || result.Failed[0].ExitCode != 3 {
		t.Fatalf("wrong failure: %+v", result.Failed[0])
	}
	if _, ok := err.(*AggregationError); !ok {
		t.Fatalf("got error %T; expected *AggregationError", err)
	}

	// keep is unset, so scripts and sentinels are gone after the barrier.
	leftovers, _ := filepath.Glob(filepath.Join(s.Get(KeyWorkingDir), ".sge-scripts", "*"))
	if len(leftovers) != 0 {
		t.Fatalf("scripts not cleaned up: %v", leftovers)
	}
}

func TestGridEngineKeepRetainsScripts(t *testing.T) {
	installFakeSGE(t, fakeQstatEmpty)
	s, _ := newSGEScheduler(t)
	s.Set(KeyKeep, "1")

	if _, err := s.PleaseExecute("exit 0", Options{Label: "kept"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WrapItUp(); err != nil {
		t.Fatal(err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(s.Get(KeyWorkingDir), ".sge-scripts", "*"))
	if len(leftovers) != 2 { // script plus sentinel
		t.Fatalf("expected retained script and sentinel, found %v", leftovers)
	}
}

func TestGridEngineAndWaitExitCode(t *testing.T) {
	installFakeSGE(t, fakeQstatEmpty)
	s, _ := newSGEScheduler(t)

	code, err := s.PleaseExecuteAndWait("exit 7", Options{Label: "solo"})
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("got exit code %d; expected 7", code)
	}
}

func TestGridEngineQsubArgv(t *testing.T) {
	installFakeSGE(t, fakeQstatEmpty)
	record := filepath.Join(t.TempDir(), "qsub-args")
	t.Setenv("QSUB_RECORD", record)

	s, _ := newSGEScheduler(t)
	s.Set(KeyQueue, "all.q")
	s.Set(KeyQsubXOpts, "-l h_vmem=4G")

	if _, err := s.PleaseExecute("exit 0", Options{Label: "argv test", CPUWeight: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WrapItUp(); err != nil {
		t.Fatal(err)
	}

	recorded, err := os.ReadFile(record)
	if err != nil {
		t.Fatal(err)
	}
	args := string(recorded)
	for _, want := range []string{"-q all.q", "-pe smp 4", "-l h_vmem=4G", "-N argv_test"} {
		if !strings.Contains(args, want) {
			t.Fatalf("qsub argv %q missing %q", args, want)
		}
	}
}

func TestGridEngineRunningStateObserved(t *testing.T) {
	installFakeSGE(t, fakeQstatRunning)
	s, _ := newSGEScheduler(t)

	id, err := s.PleaseExecute("sleep 1; exit 0", Options{Label: "long"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.WrapItUp()
		close(done)
	}()

	sawRunning := false
	deadline := time.Now().Add(5 * time.Second)
	for !sawRunning && time.Now().Before(deadline) {
		if job, _ := s.Table().Get(id); job.State == RUNNING || job.State.IsDone() {
			sawRunning = job.State >= RUNNING
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sawRunning {
		t.Fatal("job was never observed RUNNING")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("barrier never returned")
	}
	job, _ := s.Table().Get(id)
	if job.State != SUCCEEDED {
		t.Fatalf("job ended %s; expected SUCCEEDED", job.State)
	}
}

func TestGridEngineSubmissionRefused(t *testing.T) {
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "qsub"), []byte("#!/bin/sh\necho 'queue unavailable' >&2\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "qstat"), []byte(fakeQstatEmpty), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	s, _ := newSGEScheduler(t)
	_, err := s.PleaseExecute("exit 0", Options{Label: "refused"})
	if err == nil {
		t.Fatal("expected an immediate submission error")
	}
	if _, ok := err.(*SubmissionError); !ok {
		t.Fatalf("got %T; expected *SubmissionError", err)
	}

	// The refusal is not the barrier's to report.
	result, err := s.WrapItUp()
	if err != nil || !result.OK {
		t.Fatalf("refused job leaked into the batch: %v", err)
	}
}
