//go:build !windows

package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

// writeScript creates an executable shell script standing in for the backend.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func releaseSpec(path string) config.SidecarSpec {
	doc := config.Default()
	spec := doc.Sidecar
	spec.Path = path
	spec.ShutdownGrace = config.Duration{Duration: 200 * time.Millisecond}
	spec.KillTimeout = config.Duration{Duration: 500 * time.Millisecond}
	return spec
}

func newReleaseSupervisor(t *testing.T, spec config.SidecarSpec) *Supervisor {
	t.Helper()
	sup := New(Options{Mode: buildmode.Release, Sidecar: spec})
	sup.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return sup
}

// collect drains the supervisor's event stream until it closes.
func collect(sup *Supervisor) <-chan []events.Event {
	out := make(chan []events.Event, 1)
	go func() {
		var got []events.Event
		for evt := range sup.Events() {
			got = append(got, evt)
		}
		out <- got
	}()
	return out
}

func superviseAsync(ctx context.Context, sup *Supervisor) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Supervise(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		t.Fatalf("supervise did not return within %s", timeout)
	}
	return nil
}

func outputLines(evts []events.Event, stream string) []string {
	var lines []string
	for _, evt := range evts {
		if evt.Type == events.TypeOutput && evt.Stream == stream {
			lines = append(lines, evt.Message)
		}
	}
	return lines
}

func countType(evts []events.Event, typ events.Type) int {
	n := 0
	for _, evt := range evts {
		if evt.Type == typ {
			n++
		}
	}
	return n
}
