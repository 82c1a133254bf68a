// Package logmux fans in supervisor events into a single bounded stream for
// the shell's consumers.
package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

// Mux fans in events from multiple sources and delivers them via a bounded
// channel. Output lines never wait for a slow consumer: when the buffer is
// full they are dropped and a synthesized warning reports the number of
// discarded lines once there is room again. Lifecycle events are delivered
// in order and wait for the consumer.
type Mux struct {
	out    chan events.Event
	onDrop func(int)

	mu     sync.Mutex
	drops  map[string]dropRecord
	inputs sync.WaitGroup
}

type dropRecord struct {
	count   int
	attempt int
}

// Option customises a Mux.
type Option func(*Mux)

// WithDropHook registers fn to be called with the number of output lines
// dropped each time the mux discards some.
func WithDropHook(fn func(int)) Option {
	return func(m *Mux) {
		m.onDrop = fn
	}
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int, opts ...Option) *Mux {
	if size <= 0 {
		size = 1
	}
	m := &Mux{
		out:   make(chan events.Event, size),
		drops: make(map[string]dropRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan events.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan events.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			evt = events.Normalize(evt)
			if evt.Type != events.TypeOutput {
				m.blockingSend(evt)
				continue
			}
			m.deliver(evt)
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt events.Event) {
	if !m.flushPending(evt.Source) {
		m.recordDrop(evt.Source, evt.Attempt)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Source, evt.Attempt)
}

func (m *Mux) flushPending(source string) bool {
	for {
		rec := m.takeDrops(source)
		if rec.count == 0 {
			return true
		}
		if m.trySend(synthesizeDropEvent(source, rec)) {
			continue
		}
		m.restoreDrops(source, rec)
		return false
	}
}

func (m *Mux) takeDrops(source string) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[source]
	if rec.count != 0 {
		delete(m.drops, source)
	}
	return rec
}

func (m *Mux) recordDrop(source string, attempt int) {
	m.restoreDrops(source, dropRecord{count: 1, attempt: attempt})
	if m.onDrop != nil {
		m.onDrop(1)
	}
}

func (m *Mux) restoreDrops(source string, add dropRecord) {
	if add.count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[source]
	rec.count += add.count
	if add.attempt != 0 || rec.attempt == 0 {
		rec.attempt = add.attempt
	}
	m.drops[source] = rec
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]dropRecord)
	m.mu.Unlock()

	for source, rec := range pending {
		if rec.count == 0 {
			continue
		}
		m.blockingSend(synthesizeDropEvent(source, rec))
	}
}

func (m *Mux) trySend(evt events.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt events.Event) {
	m.out <- evt
}

func synthesizeDropEvent(source string, rec dropRecord) events.Event {
	return events.Event{
		Timestamp: time.Now(),
		Source:    source,
		Type:      events.TypeOutput,
		Message:   fmt.Sprintf("dropped=%d", rec.count),
		Level:     "warn",
		Stream:    events.StreamSystem,
		Attempt:   rec.attempt,
	}
}
