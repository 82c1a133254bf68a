package shell

import (
	"sync"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/api"
	"github.com/AreTaj/Migraine-Navigator/internal/cliutil"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

const defaultHistory = 32

// tracker keeps a bounded history of backend lifecycle transitions observed
// via supervisor events. Output lines are ignored.
type tracker struct {
	mu       sync.RWMutex
	limit    int
	history  []api.Transition
	last     events.Type
	spawnErr string
}

func newTracker(limit int) *tracker {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &tracker{limit: limit}
}

// Apply records evt when it is a lifecycle transition.
func (t *tracker) Apply(evt events.Event) {
	if evt.Type == events.TypeOutput {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	message := evt.Message
	if evt.Err != nil {
		if message == "" {
			message = evt.Err.Error()
		} else {
			message = message + ": " + evt.Err.Error()
		}
	}
	message = cliutil.RedactSecrets(message)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = evt.Type
	if evt.Type == events.TypeFailed && evt.Reason == events.ReasonSpawnFailure {
		t.spawnErr = message
	}
	t.history = append(t.history, api.Transition{
		Timestamp: evt.Timestamp,
		Type:      string(evt.Type),
		Reason:    evt.Reason,
		Message:   message,
	})
	if over := len(t.history) - t.limit; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
}

// History returns a copy of the recorded transitions, oldest first.
func (t *tracker) History() []api.Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]api.Transition(nil), t.history...)
}

// Last reports the most recent lifecycle event type.
func (t *tracker) Last() events.Type {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// SpawnFailure returns the redacted spawn failure message, if any.
func (t *tracker) SpawnFailure() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spawnErr
}
