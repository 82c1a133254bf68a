package tui

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AreTaj/Migraine-Navigator/internal/cliutil"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

// Headless stands in for the window when there is no interactive terminal.
// It reports lifecycle transitions through the logger and otherwise waits
// for the context to end.
type Headless struct {
	logger *slog.Logger
	events chan events.Event

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	usable    sync.Once
	done      chan struct{}
}

// NewHeadless constructs a headless window logging through logger.
func NewHeadless(logger *slog.Logger) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{
		logger: logger.With("component", "window"),
		events: make(chan events.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// EventSink exposes the channel where supervisor events should be delivered.
func (h *Headless) EventSink() chan<- events.Event {
	return h.events
}

// CloseEvents releases the event channel.
func (h *Headless) CloseEvents() {
	h.closeOnce.Do(func() {
		close(h.events)
	})
}

// Done returns a channel that is closed when the window stops.
func (h *Headless) Done() <-chan struct{} {
	return h.done
}

// MarkUsable logs that the shell is ready for use.
func (h *Headless) MarkUsable() {
	h.usable.Do(func() {
		h.logger.Info("window usable")
	})
}

// Run blocks until Stop is called or ctx is cancelled.
func (h *Headless) Run(ctx context.Context) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for evt := range h.events {
			h.report(evt)
		}
	}()

	select {
	case <-ctx.Done():
		h.Stop()
	case <-h.done:
	}
	return nil
}

// Wait blocks until the event consumer has drained the closed sink.
func (h *Headless) Wait() {
	h.wg.Wait()
}

// Stop ends Run.
func (h *Headless) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Headless) report(evt events.Event) {
	if evt.Type == events.TypeOutput {
		return
	}
	msg := cliutil.RedactSecrets(formatEventMessage(evt))
	attrs := []any{"sidecar", evt.Source, "event", string(evt.Type)}
	if evt.Pid > 0 {
		attrs = append(attrs, "pid", evt.Pid)
	}
	switch evt.Level {
	case "error":
		h.logger.Error(msg, attrs...)
	case "warn":
		h.logger.Warn(msg, attrs...)
	default:
		h.logger.Info(msg, attrs...)
	}
}
