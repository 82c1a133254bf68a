package sidecar

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySupervised is returned when Supervise is invoked more than
	// once for the same Supervisor.
	ErrAlreadySupervised = errors.New("sidecar already supervised")

	// ErrUnsupportedPlatform indicates there is no packaging target triple
	// for the running GOOS/GOARCH pair.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// NotFoundError indicates no candidate sidecar executable exists.
type NotFoundError struct {
	Name          string
	SearchedPaths []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sidecar %s not found in: %v", e.Name, e.SearchedPaths)
}

// NotExecutableError indicates the sidecar exists but cannot be executed.
type NotExecutableError struct {
	Path string
}

func (e *NotExecutableError) Error() string {
	return fmt.Sprintf("sidecar %s is not executable", e.Path)
}

// SpawnError wraps any failure to bring the backend process up. It is fatal
// to application startup.
type SpawnError struct {
	Name string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spawn sidecar %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("spawn sidecar %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
