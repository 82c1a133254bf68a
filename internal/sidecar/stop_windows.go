//go:build windows

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

func (c *Child) terminate(ctx context.Context) error {
	if c.cmd.Process == nil {
		return nil
	}
	_ = c.cmd.Process.Signal(os.Interrupt)

	select {
	case <-c.waitDone:
		return nil
	case <-time.After(c.killTimeout):
	case <-ctx.Done():
	}

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", c.name, err)
	}
	<-c.waitDone
	return nil
}

func signalPID(pid int, force bool) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
