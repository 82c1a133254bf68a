package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrSidecarNotRunning = errors.New("sidecar not running")
	ErrSidecarNotReady   = errors.New("sidecar not ready")
	ErrSpawnFailed       = errors.New("sidecar spawn failed")
)

// Transition records one lifecycle change of the backend.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
}

// SidecarReport describes the supervised backend process.
type SidecarReport struct {
	Name        string         `json:"name"`
	State       string         `json:"state"`
	Path        string         `json:"path,omitempty"`
	Pid         int            `json:"pid,omitempty"`
	Ready       bool           `json:"ready"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	ExitedAt    time.Time      `json:"exited_at,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Spawns      int            `json:"spawns"`
	Restarts    int            `json:"restarts"`
	OutputLines map[string]int `json:"output_lines"`
	Dropped     int            `json:"dropped"`
	History     []Transition   `json:"history"`
}

// StatusReport aggregates shell-wide status information.
type StatusReport struct {
	Mode        string        `json:"mode"`
	GeneratedAt time.Time     `json:"generated_at"`
	Sidecar     SidecarReport `json:"sidecar"`
}

// Controller exposes the shell state required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	// Health returns nil while the shell considers its backend usable.
	Health(stdcontext.Context) error
}
