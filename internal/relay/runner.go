package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// StartSpec describes one external process launch.
type StartSpec struct {
	Name   string
	Args   []string
	Stderr io.Writer
}

// ExitInfo records how a process terminated. Code is -1 when the process
// was killed by a signal before reporting an exit code.
type ExitInfo struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
	Err    error  `json:"-"`
}

// Process is the supervisor's view of one running external process.
type Process interface {
	// Input is the process's stdin pipe. Closing it signals end-of-input.
	Input() io.WriteCloser
	// Signal forwards an OS signal to the process.
	Signal(sig os.Signal) error
	// Kill forcibly terminates the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Exit reports termination detail. Valid only after Done is closed.
	Exit() ExitInfo
}

// Runner starts external transcoding processes. The indirection exists so
// the supervisor can be exercised without a real ffmpeg binary.
type Runner interface {
	Start(spec StartSpec) (Process, error)
}

// ExecRunner launches real OS processes via os/exec.
type ExecRunner struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	exit ExitInfo
}

// Start spawns the process described by spec and begins observing its exit
// in the background. The process outlives the caller's context; teardown is
// always explicit through Signal, Kill, or closing the input pipe.
func (ExecRunner) Start(spec StartSpec) (Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Stderr = spec.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("spawn %s: %w", spec.Name, err)
	}
	p := &execProcess{cmd: cmd, stdin: stdin, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exit = exitInfo(cmd, err)
		p.mu.Unlock()
		cancel()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Input() io.WriteCloser { return p.stdin }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process has not started")
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	p.cancel()
	return nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Exit() ExitInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func exitInfo(cmd *exec.Cmd, err error) ExitInfo {
	info := ExitInfo{Code: -1, Err: err}
	state := cmd.ProcessState
	if state == nil {
		return info
	}
	info.Code = state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.Signal = ws.Signal().String()
	}
	return info
}
