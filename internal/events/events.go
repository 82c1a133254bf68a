// Package events defines the lifecycle and output notifications that flow
// from the sidecar supervisor to the rest of the shell.
package events

import (
	"regexp"
	"strings"
	"time"
)

// Type captures high level lifecycle notifications emitted by the supervisor.
type Type string

const (
	TypeSpawning   Type = "spawning"
	TypeRunning    Type = "running"
	TypeOutput     Type = "output"
	TypeReady      Type = "ready"
	TypeUnready    Type = "unready"
	TypeStopping   Type = "stopping"
	TypeExited     Type = "exited"
	TypeRestarting Type = "restarting"
	TypeFailed     Type = "failed"
	TypeSkipped    Type = "skipped"
)

// Streams an output line may originate from. StreamSystem marks lines
// synthesized by the shell itself.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamSystem = "system"
)

const (
	ReasonDevelopmentMode = "development_mode"
	ReasonInitialStart    = "initial_start"
	ReasonRestart         = "restart"
	ReasonSpawnFailure    = "spawn_failure"
	ReasonStreamClosed    = "stream_closed"
	ReasonCrash           = "crash"
	ReasonProbeReady      = "probe_ready"
	ReasonProbeUnready    = "probe_unready"
	ReasonShutdown        = "shutdown"
	ReasonRetriesExhaust  = "retries_exhausted"
)

// Event represents a single lifecycle or output notification.
type Event struct {
	Timestamp time.Time
	Source    string
	Type      Type
	Message   string
	Level     string
	Stream    string
	Pid       int
	ExitCode  int
	Err       error
	Attempt   int
	Reason    string
}

// Lifecycle builds a system event for a supervisor state transition.
func Lifecycle(source string, t Type, message string, attempt int, reason string, err error) Event {
	level := "info"
	switch t {
	case TypeFailed:
		level = "error"
	case TypeUnready, TypeRestarting:
		level = "warn"
	case TypeExited:
		if err != nil {
			level = "warn"
		}
	}
	return Event{
		Timestamp: time.Now(),
		Source:    source,
		Type:      t,
		Message:   message,
		Level:     level,
		Stream:    StreamSystem,
		Err:       err,
		Attempt:   attempt,
		Reason:    reason,
	}
}

// Normalize fills in the timestamp, stream and level defaults.
func Normalize(evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Stream == "" {
		if evt.Type == TypeOutput {
			evt.Stream = StreamStdout
		} else {
			evt.Stream = StreamSystem
		}
	}
	if evt.Level == "" && evt.Type == TypeOutput {
		evt.Level = InferLevel(evt.Message)
	}
	if evt.Level == "" {
		if evt.Stream == StreamStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|critical|warn|warning|info|debug)\b`)

// InferLevel extracts a log level from a level token in a backend output line.
// It returns an empty string when the line carries none.
func InferLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error", "critical":
		return "error"
	case "warn", "warning":
		return "warn"
	case "info":
		return "info"
	case "debug":
		return "debug"
	default:
		return ""
	}
}
