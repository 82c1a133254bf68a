package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

const (
	// maxLineSize bounds a single output line. Longer lines are discarded
	// while the pipe keeps being drained.
	maxLineSize  = 1024 * 1024
	outputBuffer = 64
)

// Command describes how to launch the backend.
type Command struct {
	Name string
	Path string
	Args []string
	Env  map[string]string
	Dir  string

	// ShutdownGrace is how long the child gets to exit after its stdin is
	// closed before it is signalled.
	ShutdownGrace time.Duration
	// KillTimeout is how long a terminate signal gets before a forced kill.
	KillTimeout time.Duration
}

// OutputEvent is one line written by the child on stdout or stderr.
type OutputEvent struct {
	Stream string
	Line   string
	At     time.Time
}

// Child is the handle to a running backend process. Releasing it closes the
// child's stdin, which the backend treats as a request to exit.
type Child struct {
	name          string
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	output        chan OutputEvent
	shutdownGrace time.Duration
	killTimeout   time.Duration

	waitDone chan struct{}
	waitErr  error

	stdinOnce   sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

// Spawn starts the backend described by c. The returned Child must be
// released by its owner once the output stream has ended.
func Spawn(c Command) (*Child, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(c.Path)
	}

	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar %s stdin: %w", c.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar %s stdout: %w", c.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar %s stderr: %w", c.Name, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sidecar %s: %w", c.Name, err)
	}

	child := &Child{
		name:          c.Name,
		cmd:           cmd,
		stdin:         stdin,
		output:        make(chan OutputEvent, outputBuffer),
		shutdownGrace: c.ShutdownGrace,
		killTimeout:   c.KillTimeout,
		waitDone:      make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go child.streamOutput(stdout, events.StreamStdout, &wg)
	go child.streamOutput(stderr, events.StreamStderr, &wg)
	go func() {
		// Pipes must be read to EOF before Wait closes them.
		wg.Wait()
		close(child.output)
		child.waitErr = cmd.Wait()
		close(child.waitDone)
	}()

	return child, nil
}

// Pid returns the operating system process identifier.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stdin exposes the write side of the child's standard input. Callers must
// not close it; use Release.
func (c *Child) Stdin() io.Writer {
	return c.stdin
}

// Output returns the stream of lines written by the child. The channel is
// closed once both stdout and stderr have ended.
func (c *Child) Output() <-chan OutputEvent {
	return c.output
}

// Exited is closed once the process has been reaped.
func (c *Child) Exited() <-chan struct{} {
	return c.waitDone
}

// Wait blocks until the process has been reaped and returns its exit error.
func (c *Child) Wait(ctx context.Context) error {
	select {
	case <-c.waitDone:
		return c.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode reports the exit status, or -1 while running or when the child was
// terminated by a signal.
func (c *Child) ExitCode() int {
	select {
	case <-c.waitDone:
	default:
		return -1
	}
	if c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// Release closes the child's stdin and makes sure the process is gone. The
// child first gets ShutdownGrace to exit on its own, then it is asked to
// terminate and finally killed. Release is idempotent; concurrent callers
// wait for the first one to finish.
func (c *Child) Release(ctx context.Context) error {
	c.releaseOnce.Do(func() {
		c.closeStdin()
		select {
		case <-c.waitDone:
			return
		case <-time.After(c.shutdownGrace):
		case <-ctx.Done():
		}
		c.releaseErr = c.terminate(ctx)
	})
	return c.releaseErr
}

func (c *Child) closeStdin() {
	c.stdinOnce.Do(func() {
		_ = c.stdin.Close()
	})
}

func (c *Child) streamOutput(r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	discarding := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 && !discarding {
			if len(line)+len(chunk) > maxLineSize {
				discarding = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !discarding && len(line) > 0 {
			text := bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
			c.output <- OutputEvent{Stream: stream, Line: string(text), At: time.Now()}
		}
		discarding = false
		line = line[:0]
		if err != nil {
			// Read errors are treated like end of stream.
			return
		}
	}
}
