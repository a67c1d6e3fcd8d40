package os

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/andrewdhuang/lyve-SET/execer"
)

// Implements execer.Execer by spawning real subprocesses.
type osExecer struct{}

func NewExecer() execer.Execer {
	return &osExecer{}
}

// Exec starts command and returns a Process wrapping it.
func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, errors.New("no command specified")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	for k, v := range command.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Child processes share cmd's pgid so a kill can take down the
	// whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Copy output through pipes rather than handing the writers to
	// os/exec directly. Wait() can hang on directly-attached writers if
	// a grandchild process inherits the descriptors and outlives us.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if command.Stderr != nil {
			io.Copy(command.Stderr, stderrPipe)
		} else {
			io.Copy(io.Discard, stderrPipe)
		}
	}()
	go func() {
		defer wg.Done()
		if command.Stdout != nil {
			io.Copy(command.Stdout, stdoutPipe)
		} else {
			io.Copy(io.Discard, stdoutPipe)
		}
	}()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{cmd: cmd, wg: &wg}
	if command.Timeout > 0 {
		p.timer = time.AfterFunc(command.Timeout, func() {
			log.WithFields(log.Fields{
				"pid":     cmd.Process.Pid,
				"timeout": command.Timeout,
				"argv":    command.Argv,
			}).Warn("Command exceeded its deadline, killing")
			p.kill(execer.TIMEDOUT, "command exceeded its wall-clock deadline")
		})
	}
	return p, nil
}
