package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

// Status captures the readiness condition surfaced by a probe watcher.
type Status string

const (
	// StatusUnknown is used internally to track transitions and is not
	// emitted on the public channel.
	StatusUnknown Status = "unknown"
	// StatusReady indicates that the probe has satisfied the configured
	// success threshold.
	StatusReady Status = "ready"
	// StatusUnready indicates that the probe has exceeded the configured
	// failure threshold.
	StatusUnready Status = "unready"
)

// Event describes a readiness state transition emitted by Watch.
type Event struct {
	Status Status
	Reason string
	Err    error
	At     time.Time
}

// Prober defines the behaviour required by the Watch loop.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// New constructs an implementation of Prober for the supplied specification.
// When both an HTTP and a TCP check are configured the backend counts as
// reachable as soon as either succeeds.
func New(spec *config.ProbeSpec) (Prober, error) {
	if spec == nil {
		return nil, nil
	}
	terms := make([]probeTerm, 0, 2)
	if spec.HTTP != nil {
		terms = append(terms, probeTerm{alias: "http", probe: newHTTPProber(spec.HTTP)})
	}
	if spec.TCP != nil {
		terms = append(terms, probeTerm{alias: "tcp", probe: newTCPProber(spec.TCP)})
	}
	switch len(terms) {
	case 0:
		return nil, errors.New("probe: missing configuration")
	case 1:
		return terms[0].probe, nil
	}
	return &multiProber{terms: terms}, nil
}

// Timed wraps prober so every attempt reports its duration to observe.
func Timed(prober Prober, observe func(time.Duration, error)) Prober {
	if prober == nil || observe == nil {
		return prober
	}
	return ProberFunc(func(ctx context.Context) error {
		start := time.Now()
		err := prober.Probe(ctx)
		observe(time.Since(start), err)
		return err
	})
}

// Watch runs prober every interval until ctx is cancelled and emits
// ready/unready transitions on the returned channel, which is closed when the
// loop ends. The first transition is emitted once either threshold is met.
func Watch(ctx context.Context, prober Prober, spec *config.ProbeSpec, nowFn func() time.Time) <-chan Event {
	out := make(chan Event, 1)
	if ctx == nil || prober == nil || spec == nil {
		close(out)
		return out
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	w := &watcher{
		prober:  prober,
		timeout: spec.Timeout.Duration,
		streak:  newStreak(spec.SuccessThreshold, spec.FailureThreshold),
		now:     nowFn,
		out:     out,
	}
	go w.run(ctx, spec.GracePeriod.Duration, spec.Interval.Duration)
	return out
}

type watcher struct {
	prober  Prober
	timeout time.Duration
	streak  *streak
	now     func() time.Time
	out     chan Event
}

func (w *watcher) run(ctx context.Context, grace, interval time.Duration) {
	defer close(w.out)
	if !sleep(ctx, grace) {
		return
	}
	for {
		err := w.attempt(ctx)
		if ctx.Err() != nil {
			return
		}
		if evt, changed := w.streak.record(err); changed {
			evt.At = w.now()
			select {
			case w.out <- evt:
			case <-ctx.Done():
				return
			}
		}
		if !sleep(ctx, interval) {
			return
		}
	}
}

func (w *watcher) attempt(ctx context.Context) error {
	if w.timeout <= 0 {
		return w.prober.Probe(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	err := w.prober.Probe(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %s", w.timeout)
	}
	return err
}

// streak counts consecutive results against the configured thresholds.
type streak struct {
	needSuccess int
	needFailure int
	successes   int
	failures    int
	status      Status
}

func newStreak(success, failure int) *streak {
	return &streak{
		needSuccess: max(success, 1),
		needFailure: max(failure, 1),
		status:      StatusUnknown,
	}
}

// record accounts one probe result and reports whether it changed the status.
func (s *streak) record(err error) (Event, bool) {
	if err == nil {
		s.successes++
		s.failures = 0
		if s.successes < s.needSuccess || s.status == StatusReady {
			return Event{}, false
		}
		s.status = StatusReady
		return Event{Status: StatusReady}, true
	}
	s.failures++
	s.successes = 0
	if s.failures < s.needFailure || s.status == StatusUnready {
		return Event{}, false
	}
	s.status = StatusUnready
	return Event{Status: StatusUnready, Reason: err.Error(), Err: err}, true
}

// sleep waits for d or ctx and reports whether the caller should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type multiProber struct {
	terms []probeTerm
}

type probeTerm struct {
	alias string
	probe Prober
}

func (m *multiProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		alias string
		err   error
	}

	results := make(chan result, len(m.terms))
	for _, term := range m.terms {
		go func(alias string, prober Prober) {
			results <- result{alias: alias, err: prober.Probe(ctx)}
		}(term.alias, term.probe)
	}

	var errs []error
	for i := 0; i < len(m.terms); i++ {
		res := <-results
		if res.err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.alias, res.err))
	}
	return errors.Join(errs...)
}
