//go:build !windows

package acp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/engine/internal/errfmt"
	"github.com/thoughttree/agentbridge/provider"
)

// agentProcess is a spawned agent in its own session and process group.
type agentProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	log    *zap.Logger

	exited  chan struct{} // closed after cmd.Wait returns
	waitErr error
}

// startAgent spawns pc with dir as working directory and piped stdio.
func startAgent(pc provider.Command, dir string, log *zap.Logger) (*agentProcess, error) {
	cmd := exec.Command(pc.Path, pc.Args...)
	cmd.Dir = dir
	cmd.Env = pc.Env
	// A new session makes the agent the leader of its own process group so
	// teardown reaches every helper it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", agentbridge.ErrUnavailable, pc.Path, err)
	}

	log.Info("agent started", zap.String("path", pc.Path), zap.Strings("args", pc.Args), zap.Int("pid", cmd.Process.Pid))
	return &agentProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		log:    log,
		exited: make(chan struct{}),
	}, nil
}

// drainStderr logs each stderr line until the pipe closes.
func (p *agentProcess) drainStderr() error {
	s := bufio.NewScanner(p.stderr)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	for s.Scan() {
		if line := errfmt.Line(s.Text()); line != "" {
			p.log.Warn("agent stderr", zap.String("line", line))
		}
	}
	return nil
}

// reap waits for the process. Callers must have finished reading stdout
// and stderr first.
func (p *agentProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// exitError converts the wait result into an *agentbridge.ExitError, or
// nil for a clean exit. Code is -1 when the agent died from a signal.
func (p *agentProcess) exitError() error {
	var ee *exec.ExitError
	if !errors.As(p.waitErr, &ee) {
		return nil
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &agentbridge.ExitError{Code: -1, Err: ee}
	}
	return &agentbridge.ExitError{Code: ee.ExitCode(), Err: ee}
}

// signalGroup sends sig to the agent's process group.
func (p *agentProcess) signalGroup(sig unix.Signal) error {
	pid := p.cmd.Process.Pid
	// kill(-1) and kill(0) would hit far more than the agent.
	if pid <= 1 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// terminate closes stdin, sends SIGTERM to the group, escalates to SIGKILL
// after grace, and finally closes the read pipes if a straggler still holds
// them open. Returns once the process is reaped.
func (p *agentProcess) terminate(grace time.Duration) {
	_ = p.stdin.Close()

	select {
	case <-p.exited:
		return
	default:
	}

	if err := p.signalGroup(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Warn("SIGTERM failed", zap.Error(err))
	}
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}

	p.log.Warn("agent ignored SIGTERM, killing", zap.Duration("grace", grace))
	_ = p.signalGroup(unix.SIGKILL)
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}

	// A process that left the group may still hold our pipes.
	_ = p.stdout.Close()
	_ = p.stderr.Close()
	<-p.exited
}
