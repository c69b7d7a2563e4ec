package session

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ErrStdinClosed is returned when writing to a debugger whose input is gone.
var ErrStdinClosed = errors.New("stdin pipe closed")

// ErrWriteTimeout is returned when the debugger did not take input in time.
var ErrWriteTimeout = errors.New("stdin write timed out")

// Starter launches a debugger process.
type Starter func() (*Process, error)

// Process is a supervised debugger subprocess. It can be asked to quit,
// killed, and awaited independently of whoever spawned it.
type Process struct {
	pid    int
	stdin  *stdinWriter
	stdout io.Reader
	stderr io.Reader

	wait func() error
	kill func() error

	done     chan struct{}
	exitOnce sync.Once
	exitCode int
}

// stdinWriter serializes writes to the debugger's input on its own
// goroutine. A caller can stop waiting on a stalled pipe without holding up
// anyone else; whatever was already queued keeps its order.
type stdinWriter struct {
	writer    io.WriteCloser
	requests  chan writeRequest
	closed    chan struct{}
	closeOnce sync.Once
}

type writeRequest struct {
	data   []byte
	result chan error
}

func newStdinWriter(w io.WriteCloser) *stdinWriter {
	sw := &stdinWriter{
		writer:   w,
		requests: make(chan writeRequest),
		closed:   make(chan struct{}),
	}
	go sw.run()
	return sw
}

func (sw *stdinWriter) run() {
	for {
		select {
		case req := <-sw.requests:
			_, err := sw.writer.Write(req.data)
			req.result <- err
		case <-sw.closed:
			return
		}
	}
}

// Write hands data to the writer goroutine and waits for the write to
// finish. A positive timeout bounds the wait; a request that was already
// accepted is still written after the timeout.
func (sw *stdinWriter) Write(data []byte, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	req := writeRequest{data: data, result: make(chan error, 1)}
	select {
	case sw.requests <- req:
	case <-sw.closed:
		return ErrStdinClosed
	case <-expired:
		return ErrWriteTimeout
	}

	select {
	case err := <-req.result:
		return err
	case <-sw.closed:
		return ErrStdinClosed
	case <-expired:
		return ErrWriteTimeout
	}
}

// Close closes the pipe, which also unblocks a write in progress.
func (sw *stdinWriter) Close() {
	sw.closeOnce.Do(func() {
		close(sw.closed)
		sw.writer.Close()
	})
}

func newProcess(pid int, stdin io.WriteCloser, stdout, stderr io.Reader, wait, kill func() error) *Process {
	return &Process{
		pid:    pid,
		stdin:  newStdinWriter(stdin),
		stdout: stdout,
		stderr: stderr,
		wait:   wait,
		kill:   kill,
		done:   make(chan struct{}),
	}
}

// ExecStarter returns a Starter that runs path with args in dir (the server's
// working directory when dir is empty).
func ExecStarter(path string, args []string, dir string) Starter {
	return func() (*Process, error) {
		binaryPath, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("debugger not found: %w", err)
		}

		cmd := exec.Command(binaryPath, args...)
		cmd.Dir = dir

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", binaryPath, err)
		}

		return newProcess(cmd.Process.Pid, stdin, stdout, stderr, cmd.Wait, cmd.Process.Kill), nil
	}
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	return p.pid
}

// Write sends raw bytes to the debugger's stdin, waiting until they are
// written or the process is gone.
func (p *Process) Write(data []byte) error {
	return p.stdin.Write(data, 0)
}

// Quit writes the debugger's own quit directive followed by a newline,
// giving up after timeout if the debugger is not taking input. It does not
// wait for the process to exit.
func (p *Process) Quit(directive string, timeout time.Duration) error {
	return p.stdin.Write([]byte(directive+"\n"), timeout)
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	return p.kill()
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code; only meaningful after Done is closed.
// A process killed by a signal reports -1.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// reap waits for the process and records its exit code. Both output streams
// must have been drained before calling it.
func (p *Process) reap() int {
	p.exitOnce.Do(func() {
		err := p.wait()

		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}

		p.stdin.Close()
		p.exitCode = code
		close(p.done)
	})
	return p.exitCode
}
