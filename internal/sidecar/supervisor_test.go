//go:build !windows

package sidecar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

func TestSuperviseDevelopmentModeSpawnsNothing(t *testing.T) {
	var resolveCalls atomic.Int32
	sup := New(Options{
		Mode:    buildmode.Development,
		Sidecar: config.Default().Sidecar,
		Resolve: func() (string, error) {
			resolveCalls.Add(1)
			return "", errors.New("must not be called")
		},
	})
	got := collect(sup)

	require.NoError(t, sup.Supervise(context.Background()))
	require.NoError(t, sup.AwaitStarted(context.Background()))

	evts := <-got
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeSkipped, evts[0].Type)
	assert.Equal(t, events.ReasonDevelopmentMode, evts[0].Reason)
	assert.Zero(t, resolveCalls.Load())

	status := sup.Status()
	assert.Equal(t, StateNotStarted, status.State)
	assert.Zero(t, status.Spawns)
	assert.Equal(t, "development", status.Mode)

	select {
	case <-sup.Done():
	default:
		t.Fatal("Done should be closed after Supervise returns")
	}
}

func TestSuperviseSecondInvocationRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exec cat >/dev/null")

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := superviseAsync(ctx, sup)
	require.NoError(t, sup.AwaitStarted(ctx))

	err := sup.Supervise(ctx)
	require.ErrorIs(t, err, ErrAlreadySupervised)
	assert.Equal(t, 1, sup.Status().Spawns)

	cancel()
	require.NoError(t, waitErr(t, errCh, 5*time.Second))
	<-got
	assert.Equal(t, 1, sup.Status().Spawns)
}

func TestSuperviseMissingBinaryIsSpawnError(t *testing.T) {
	spec := config.Default().Sidecar
	spec.SearchDirs = []string{t.TempDir()}

	sup := New(Options{Mode: buildmode.Release, Sidecar: spec})
	got := collect(sup)

	err := sup.Supervise(context.Background())
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Len(t, notFound.SearchedPaths, 2)
	assert.True(t, IsSpawnError(err))

	startErr := sup.AwaitStarted(context.Background())
	require.ErrorAs(t, startErr, &spawnErr)

	evts := <-got
	require.NotEmpty(t, evts)
	last := evts[len(evts)-1]
	assert.Equal(t, events.TypeFailed, last.Type)
	assert.Equal(t, events.ReasonSpawnFailure, last.Reason)
	assert.Equal(t, "error", last.Level)

	status := sup.Status()
	assert.Equal(t, StateExited, status.State)
	assert.Zero(t, status.Spawns)
	assert.NotEmpty(t, status.LastError)
}

func TestSuperviseNonExecutableIsSpawnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	err := sup.Supervise(context.Background())
	var notExec *NotExecutableError
	require.ErrorAs(t, err, &notExec)
	assert.Equal(t, path, notExec.Path)
	<-got
}

func TestSuperviseImmediateCleanExit(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", "exit 0")

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	start := time.Now()
	require.NoError(t, sup.Supervise(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, sup.AwaitStarted(context.Background()))

	evts := <-got
	assert.Equal(t, 1, countType(evts, events.TypeRunning))
	assert.Equal(t, 1, countType(evts, events.TypeExited))

	status := sup.Status()
	assert.Equal(t, StateExited, status.State)
	assert.Equal(t, 0, status.ExitCode)
	assert.Equal(t, 1, status.Spawns)
	assert.NotZero(t, status.Pid)
}

func TestSuperviseDrainsBothStreams(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", `
echo "INFO: Started server process"
echo "Uvicorn running on http://127.0.0.1:8000" >&2
echo done`)

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	require.NoError(t, sup.Supervise(context.Background()))
	evts := <-got

	assert.Equal(t, []string{"INFO: Started server process", "done"}, outputLines(evts, events.StreamStdout))
	assert.Equal(t, []string{"Uvicorn running on http://127.0.0.1:8000"}, outputLines(evts, events.StreamStderr))
	for _, evt := range evts {
		if evt.Type == events.TypeOutput && evt.Stream == events.StreamStderr {
			assert.Equal(t, "warn", evt.Level)
		}
	}

	status := sup.Status()
	assert.Equal(t, 2, status.OutputLines[events.StreamStdout])
	assert.Equal(t, 1, status.OutputLines[events.StreamStderr])
}

func TestSuperviseKeepsChildAliveWhileOutputContinues(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", `
trap 'exit 0' TERM
while :; do echo tick; sleep 0.02; done`)

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := superviseAsync(ctx, sup)
	require.NoError(t, sup.AwaitStarted(ctx))

	time.Sleep(300 * time.Millisecond)
	status := sup.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Greater(t, status.OutputLines[events.StreamStdout], 1)
	select {
	case err := <-errCh:
		t.Fatalf("supervise returned while backend was running: %v", err)
	default:
	}

	cancel()
	require.NoError(t, waitErr(t, errCh, 5*time.Second))
	evts := <-got
	assert.Equal(t, 1, countType(evts, events.TypeStopping))

	last := evts[len(evts)-1]
	assert.Equal(t, events.TypeExited, last.Type)
	assert.Equal(t, events.ReasonShutdown, last.Reason)
	assert.Equal(t, StateExited, sup.Status().State)
}

func TestSuperviseClosesStdinOnShutdown(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", `
echo up
cat >/dev/null
echo stdin closed`)

	spec := releaseSpec(path)
	spec.ShutdownGrace = config.Duration{Duration: 5 * time.Second}
	sup := newReleaseSupervisor(t, spec)
	got := collect(sup)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := superviseAsync(ctx, sup)
	require.NoError(t, sup.AwaitStarted(context.Background()))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	cancel()
	require.NoError(t, waitErr(t, errCh, 5*time.Second))
	assert.Less(t, time.Since(start), 4*time.Second, "backend should exit on stdin close without signals")

	evts := <-got
	assert.Contains(t, outputLines(evts, events.StreamStdout), "stdin closed")
	assert.Equal(t, 0, sup.Status().ExitCode)
}

func TestSuperviseCrashIsNotFatal(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", `echo boom >&2; exit 3`)

	sup := newReleaseSupervisor(t, releaseSpec(path))
	got := collect(sup)

	require.NoError(t, sup.Supervise(context.Background()))
	evts := <-got

	last := evts[len(evts)-1]
	assert.Equal(t, events.TypeExited, last.Type)
	assert.Equal(t, events.ReasonCrash, last.Reason)
	assert.Equal(t, 3, last.ExitCode)
	assert.Error(t, last.Err)

	status := sup.Status()
	assert.Equal(t, 3, status.ExitCode)
	assert.Equal(t, 1, status.Spawns, "default policy never restarts")
	assert.Zero(t, status.Restarts)
}

func TestSuperviseRestartsOnFailure(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	path := writeScript(t, dir, "backend", `
n=$(cat "`+counter+`" 2>/dev/null || echo 0)
n=$((n+1))
echo $n > "`+counter+`"
exit 1`)

	spec := releaseSpec(path)
	spec.Restart = &config.RestartPolicy{Policy: config.RestartOnFailure, MaxRetries: 2}
	sup := newReleaseSupervisor(t, spec)

	var delays []time.Duration
	sup.jitter = func(d time.Duration) time.Duration { return d }
	sup.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	got := collect(sup)

	require.NoError(t, sup.Supervise(context.Background()))
	evts := <-got

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(string(data)))

	status := sup.Status()
	assert.Equal(t, 3, status.Spawns)
	assert.Equal(t, 2, status.Restarts)
	assert.Equal(t, 2, countType(evts, events.TypeRestarting))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)

	last := evts[len(evts)-1]
	assert.Equal(t, events.TypeFailed, last.Type)
	assert.Equal(t, events.ReasonRetriesExhaust, last.Reason)
}

func TestSuperviseOnFailureIgnoresCleanExit(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", "exit 0")

	spec := releaseSpec(path)
	spec.Restart = &config.RestartPolicy{Policy: config.RestartOnFailure, MaxRetries: -1}
	sup := newReleaseSupervisor(t, spec)
	got := collect(sup)

	require.NoError(t, sup.Supervise(context.Background()))
	<-got
	assert.Equal(t, 1, sup.Status().Spawns)
}

func TestSuperviseWritesAndRemovesPIDFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "backend", "exec cat >/dev/null")
	pidFile := filepath.Join(dir, "run", "sidecar.pid")

	sup := New(Options{Mode: buildmode.Release, Sidecar: releaseSpec(path), PIDFile: pidFile})
	got := collect(sup)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := superviseAsync(ctx, sup)
	require.NoError(t, sup.AwaitStarted(ctx))

	rec, err := ReadPIDFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, sup.Status().Pid, rec.PID)
	assert.Equal(t, path, rec.Path)

	cancel()
	require.NoError(t, waitErr(t, errCh, 5*time.Second))
	<-got
	_, err = os.Stat(pidFile)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAwaitStartedHonoursContext(t *testing.T) {
	sup := New(Options{Mode: buildmode.Release, Sidecar: config.Default().Sidecar})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sup.AwaitStarted(ctx), context.DeadlineExceeded)
}

func TestSuperviseReturnsWithoutEventReader(t *testing.T) {
	path := writeScript(t, t.TempDir(), "backend", `
i=0
while [ $i -lt 2000 ]; do
  echo "line $i"
  i=$((i+1))
done`)

	sup := newReleaseSupervisor(t, releaseSpec(path))
	errCh := superviseAsync(context.Background(), sup)

	require.NoError(t, waitErr(t, errCh, 15*time.Second))
	select {
	case <-sup.Done():
	default:
		t.Fatal("Done not closed after Supervise returned")
	}

	status := sup.Status()
	assert.Equal(t, StateExited, status.State)
	assert.Equal(t, 2000, status.OutputLines[events.StreamStdout])
	assert.Positive(t, status.Dropped)
}
