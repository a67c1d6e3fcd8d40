package os

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andrewdhuang/lyve-SET/execer"
)

// Implements execer.Process.
type process struct {
	cmd    *exec.Cmd
	wg     *sync.WaitGroup
	timer  *time.Timer
	mutex  sync.Mutex
	result *execer.ProcessStatus
}

// Wait for the process to finish.
// If the command finishes on its own, return COMPLETE with its exit code,
// zero or not. If the command could not be waited on, return FAILED with the
// error that prevented getting the exit code. If a kill already decided the
// outcome (abort or timeout), that result wins.
func (p *process) Wait() execer.ProcessStatus {
	// Drain the output copiers before reaping the process.
	p.wg.Wait()
	err := p.cmd.Wait()
	if p.timer != nil {
		p.timer.Stop()
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.result != nil {
		return *p.result
	}

	st := execer.ProcessStatus{State: execer.COMPLETE}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				st.ExitCode = ws.ExitStatus()
			} else {
				st.State = execer.FAILED
				st.Error = exitErr.Error()
			}
		} else {
			st.State = execer.FAILED
			st.Error = err.Error()
		}
	}
	p.result = &st
	return st
}

func (p *process) Abort() execer.ProcessStatus {
	return p.kill(execer.FAILED, "aborted")
}

// kill records the outcome then takes down the process group. The first
// recorded result is final; later Wait/kill calls observe it unchanged.
func (p *process) kill(state execer.ProcessState, msg string) execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil {
		st := *p.result
		p.mutex.Unlock()
		return st
	}
	st := execer.ProcessStatus{State: state, ExitCode: 1, Error: msg}
	p.result = &st
	p.mutex.Unlock()

	if p.cmd.Process != nil {
		pid := p.cmd.Process.Pid
		if pgid, err := syscall.Getpgid(pid); err == nil {
			if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
				log.WithFields(log.Fields{"pgid": pgid, "error": err}).Error("Error killing process group")
			}
		} else {
			p.cmd.Process.Kill()
		}
	}
	return st
}
