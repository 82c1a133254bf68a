package sidecar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sidecar.pid")
	rec := PIDRecord{PID: 4242, Path: "/opt/api", StartedAt: time.Unix(1700000000, 0).UTC()}

	require.NoError(t, WritePIDFile(path, rec))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	got, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, rec.PID, got.PID)
	assert.Equal(t, rec.Path, got.Path)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))

	require.NoError(t, RemovePIDFile(path))
	require.NoError(t, RemovePIDFile(path))
}

func TestCleanupStaleWithoutRecord(t *testing.T) {
	res, err := CleanupStale(filepath.Join(t.TempDir(), "missing.pid"), "/opt/api", time.Second)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestCleanupStaleSkipsForeignExecutable(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "sidecar.pid")
	require.NoError(t, WritePIDFile(pidFile, PIDRecord{PID: os.Getppid(), Path: filepath.Join(dir, "other")}))

	res, err := CleanupStale(pidFile, filepath.Join(dir, "api"), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Terminated)
	assert.Equal(t, "different executable recorded", res.Reason)

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err), "record should be removed after inspection")
}

func TestCleanupStaleIgnoresOwnPID(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "sidecar.pid")
	exe, err := os.Executable()
	require.NoError(t, err)
	require.NoError(t, WritePIDFile(pidFile, PIDRecord{PID: os.Getpid(), Path: exe}))

	res, err := CleanupStale(pidFile, exe, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Terminated)
	assert.Equal(t, "invalid pid", res.Reason)
}

func TestCleanupStaleCorruptRecord(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "sidecar.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("{"), 0o600))

	_, err := CleanupStale(pidFile, "/opt/api", time.Second)
	require.Error(t, err)
	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr))
}
