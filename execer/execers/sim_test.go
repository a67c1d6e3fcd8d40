package execers

import (
	"bytes"
	"testing"

	"github.com/andrewdhuang/lyve-SET/execer"
)

func TestSimExec(t *testing.T) {
	ex := NewSimExecer()
	assertRun(ex, t, complete(0), "complete 0")
	assertRun(ex, t, complete(1), "complete 1")
	assertRun(ex, t, complete(0), "sleep 1", "complete 0")
	assertRun(ex, t, complete(0), "#this is a comment", "complete 0")
	argv := []string{"pause", "complete 0"}
	p := assertStart(ex, t, argv...)
	ex.Resume()
	assertStatus(t, complete(0), p, argv...)
}

func TestSimOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := execer.Command{
		Argv:   []string{"stdout out", "stderr err", "complete 0"},
		Stdout: &stdout,
		Stderr: &stderr,
	}

	ex := NewSimExecer()
	p, err := ex.Exec(cmd)
	if err != nil {
		t.Fatal("Error running cmd", err)
	}
	if st := p.Wait(); st != complete(0) {
		t.Fatalf("got status %v; expected %v", st, complete(0))
	}
	if stdout.String() != "out" {
		t.Fatalf("got stdout %q; expected %q", stdout.String(), "out")
	}
	if stderr.String() != "err" {
		t.Fatalf("got stderr %q; expected %q", stderr.String(), "err")
	}
}

func TestSimUnknownArg(t *testing.T) {
	ex := NewSimExecer()
	if _, err := ex.Exec(execer.Command{Argv: []string{"launch the missiles"}}); err == nil {
		t.Fatal("expected parse error for unknown opcode")
	}
}

func assertRun(ex execer.Execer, t *testing.T, expected execer.ProcessStatus, argv ...string) {
	t.Helper()
	p := assertStart(ex, t, argv...)
	assertStatus(t, expected, p, argv...)
}

func assertStart(ex execer.Execer, t *testing.T, argv ...string) execer.Process {
	t.Helper()
	p, err := ex.Exec(execer.Command{Argv: argv})
	if err != nil {
		t.Fatal("Error running cmd", err)
	}
	return p
}

func assertStatus(t *testing.T, expected execer.ProcessStatus, p execer.Process, argv ...string) {
	t.Helper()
	if st := p.Wait(); st != expected {
		t.Fatalf("running %v, got %v; expected %v", argv, st, expected)
	}
}

func complete(exitCode int) execer.ProcessStatus {
	return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: exitCode}
}
