package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

var (
	errProcessGone = errors.New("process not running")
	errUnverified  = errors.New("process identity cannot be verified on this platform")
)

// PIDRecord is persisted while a backend is running so the next shell run can
// clean up after a crash.
type PIDRecord struct {
	PID       int       `json:"pid"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
}

// WritePIDFile atomically writes rec to path. The parent directory is created
// when missing.
func WritePIDFile(path string, rec PIDRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pid record: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create pid file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync pid file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename pid file: %w", err)
	}
	return nil
}

// ReadPIDFile loads a record written by WritePIDFile. A missing file yields an
// error wrapping fs.ErrNotExist.
func ReadPIDFile(path string) (PIDRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PIDRecord{}, err
	}
	var rec PIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PIDRecord{}, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return rec, nil
}

// RemovePIDFile deletes the record. Missing files are not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// CleanupResult describes what CleanupStale found.
type CleanupResult struct {
	Record     PIDRecord
	Found      bool
	Terminated bool
	Reason     string
}

// CleanupStale terminates a backend left running by a previous shell run. The
// process recorded in pidFile is only signalled when it is alive and its
// executable is the sidecar at path. The record is removed afterwards.
func CleanupStale(pidFile, path string, wait time.Duration) (CleanupResult, error) {
	rec, err := ReadPIDFile(pidFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CleanupResult{}, nil
		}
		_ = RemovePIDFile(pidFile)
		return CleanupResult{Reason: "unreadable record"}, err
	}
	res := CleanupResult{Record: rec, Found: true}
	defer func() { _ = RemovePIDFile(pidFile) }()

	if rec.PID <= 0 || rec.PID == os.Getpid() {
		res.Reason = "invalid pid"
		return res, nil
	}
	if !samePath(rec.Path, path) {
		res.Reason = "different executable recorded"
		return res, nil
	}

	exe, err := processExecutable(rec.PID)
	switch {
	case errors.Is(err, errProcessGone):
		res.Reason = "not running"
		return res, nil
	case errors.Is(err, errUnverified):
		res.Reason = "identity unverified"
		return res, nil
	case err != nil:
		res.Reason = "inspect failed"
		return res, err
	}
	if !samePath(exe, path) {
		res.Reason = "pid reused by " + exe
		return res, nil
	}

	if err := signalPID(rec.PID, false); err != nil {
		return res, fmt.Errorf("terminate stale sidecar %d: %w", rec.PID, err)
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !processAlive(rec.PID) {
			res.Terminated = true
			res.Reason = "terminated"
			return res, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := signalPID(rec.PID, true); err != nil {
		return res, fmt.Errorf("kill stale sidecar %d: %w", rec.PID, err)
	}
	res.Terminated = true
	res.Reason = "killed"
	return res, nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ca, err := filepath.Abs(a)
	if err == nil {
		a = ca
	}
	cb, err := filepath.Abs(b)
	if err == nil {
		b = cb
	}
	if ra, err := filepath.EvalSymlinks(a); err == nil {
		a = ra
	}
	if rb, err := filepath.EvalSymlinks(b); err == nil {
		b = rb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
