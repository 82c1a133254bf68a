//go:build !windows

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// terminate signals the child's process group, escalating to SIGKILL once
// the kill timeout elapses.
func (c *Child) terminate(ctx context.Context) error {
	if c.cmd.Process == nil {
		return nil
	}
	pid := c.cmd.Process.Pid

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", c.name, err)
	}

	select {
	case <-c.waitDone:
		return nil
	case <-time.After(c.killTimeout):
	case <-ctx.Done():
	}

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", c.name, err)
	}
	<-c.waitDone
	return nil
}

// signalPID asks an unrelated process to terminate. Used for stale cleanup.
// A recorded pid that leads its own process group is signalled as a group so
// workers the backend started go with it.
func signalPID(pid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	target := pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid && pgid != unix.Getpgrp() {
		target = -pid
	}
	if err := unix.Kill(target, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
