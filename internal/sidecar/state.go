package sidecar

import "time"

// State is the supervisor's position in the backend lifecycle.
type State string

const (
	StateNotStarted State = "not_started"
	StateSpawning   State = "spawning"
	StateRunning    State = "running"
	StateExited     State = "exited"
)

// Status is a point in time copy of the supervisor's bookkeeping.
type Status struct {
	Mode      string
	State     State
	Name      string
	Path      string
	Pid       int
	StartedAt time.Time
	ExitedAt  time.Time
	ExitCode  int
	LastError string
	Spawns    int
	Restarts  int
	Ready     bool
	// OutputLines counts drained lines per stream.
	OutputLines map[string]int
	Dropped     int
}

func (s Status) clone() Status {
	cp := s
	if s.OutputLines != nil {
		cp.OutputLines = make(map[string]int, len(s.OutputLines))
		for k, v := range s.OutputLines {
			cp.OutputLines[k] = v
		}
	}
	return cp
}
