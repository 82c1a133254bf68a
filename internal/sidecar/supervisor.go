package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
	"github.com/AreTaj/Migraine-Navigator/internal/metrics"
	"github.com/AreTaj/Migraine-Navigator/internal/probe"
)

const (
	eventBuffer      = 256
	eventSendTimeout = time.Second
	staleCleanupWait = 2 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	Mode    buildmode.Mode
	Sidecar config.SidecarSpec
	// PIDFile records the running backend for stale cleanup. Empty disables
	// both the record and the cleanup.
	PIDFile string
	Logger  *slog.Logger
	// Resolve overrides executable lookup.
	Resolve func() (string, error)
}

// Supervisor owns the backend process for the lifetime of the shell. Each
// Supervisor can be run exactly once.
type Supervisor struct {
	mode    buildmode.Mode
	spec    config.SidecarSpec
	pidFile string
	logger  *slog.Logger
	resolve func() (string, error)
	policy  restartPolicy

	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error

	claimed atomic.Bool
	events  chan events.Event
	done    chan struct{}

	startedOnce sync.Once
	startedCh   chan struct{}
	startedErr  error

	mu     sync.Mutex
	status Status
}

// New constructs a supervisor. Nothing is resolved or spawned until
// Supervise runs.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	spec := opts.Sidecar
	if spec.Name == "" {
		spec.Name = config.DefaultSidecarName
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolver := NewResolver(spec)
		resolve = resolver.Resolve
	}

	return &Supervisor{
		mode:      opts.Mode,
		spec:      spec,
		pidFile:   opts.PIDFile,
		logger:    logger.With("component", "sidecar", "sidecar", spec.Name),
		resolve:   resolve,
		policy:    deriveRestartPolicy(spec.Restart),
		jitter:    defaultJitter,
		sleep:     sleepWithContext,
		events:    make(chan events.Event, eventBuffer),
		done:      make(chan struct{}),
		startedCh: make(chan struct{}),
		status: Status{
			Mode:        opts.Mode.String(),
			State:       StateNotStarted,
			Name:        spec.Name,
			ExitCode:    -1,
			OutputLines: map[string]int{},
		},
	}
}

// Events streams lifecycle and output notifications. Output lines are
// delivered without blocking the drain loop; lines the consumer cannot keep
// up with are counted and reported as a single system line. The channel is
// closed when Supervise returns.
func (s *Supervisor) Events() <-chan events.Event {
	return s.events
}

// Done is closed when Supervise returns.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// AwaitStarted blocks until the first spawn attempt has an outcome: nil once
// the backend is running or when development mode skipped it, a *SpawnError
// otherwise.
func (s *Supervisor) AwaitStarted(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.startedCh:
		return s.startedErr
	}
}

// Status returns a snapshot of the supervisor's bookkeeping.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Supervise runs the backend until its output streams end, restarting it when
// the restart policy allows. In development mode it returns immediately
// without looking up or spawning anything. Cancelling ctx releases the child:
// stdin is closed, then the process is terminated if it does not exit within
// the shutdown grace period.
func (s *Supervisor) Supervise(ctx context.Context) error {
	if !s.claimed.CompareAndSwap(false, true) {
		return ErrAlreadySupervised
	}
	defer close(s.done)
	defer close(s.events)

	if !s.mode.Spawns() {
		s.logger.Debug("development mode, backend is started externally")
		s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeSkipped, "development mode, sidecar not spawned", 0, events.ReasonDevelopmentMode, nil))
		s.deliverStarted(nil)
		return nil
	}

	s.setState(StateSpawning)
	path, err := s.resolve()
	if err != nil {
		return s.spawnFailed(ctx, &SpawnError{Name: s.spec.Name, Err: err}, 1)
	}
	s.mu.Lock()
	s.status.Path = path
	s.mu.Unlock()

	s.cleanupStale(path)

	restarts := 0
	backoffBase := s.policy.min
	for attempt := 1; ; attempt++ {
		reason := events.ReasonInitialStart
		if attempt > 1 {
			reason = events.ReasonRestart
		}
		s.setState(StateSpawning)
		s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeSpawning, "spawning "+path, attempt, reason, nil))

		child, err := Spawn(s.command(path))
		if err != nil {
			return s.spawnFailed(ctx, &SpawnError{Name: s.spec.Name, Path: path, Err: err}, attempt)
		}

		exitErr := s.run(ctx, child, path, attempt)

		if ctx.Err() != nil {
			return nil
		}
		if !s.policy.wantsRestart(exitErr) {
			return nil
		}
		if !s.policy.allowRestart(restarts) {
			s.logger.Warn("restart budget exhausted", "restarts", restarts)
			s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeFailed, "restart budget exhausted", attempt, events.ReasonRetriesExhaust, exitErr))
			return nil
		}

		restarts++
		delay := s.policy.nextDelay(&backoffBase, s.jitter)
		s.mu.Lock()
		s.status.Restarts = restarts
		s.mu.Unlock()
		metrics.IncrementRestarts()
		s.logger.Info("restarting backend", "attempt", attempt+1, "delay", delay)
		s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeRestarting, fmt.Sprintf("restarting in %s", delay.Round(time.Millisecond)), attempt+1, events.ReasonRestart, exitErr))
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// run owns child until its output streams end and returns the exit error.
func (s *Supervisor) run(ctx context.Context, child *Child, path string, attempt int) error {
	startedAt := time.Now()
	pid := child.Pid()

	s.mu.Lock()
	s.status.State = StateRunning
	s.status.Pid = pid
	s.status.StartedAt = startedAt
	s.status.ExitedAt = time.Time{}
	s.status.ExitCode = -1
	s.status.LastError = ""
	s.status.Ready = false
	s.status.Spawns++
	s.mu.Unlock()
	metrics.IncrementSpawns()
	metrics.SetSidecarUp(true)

	if s.pidFile != "" {
		if err := WritePIDFile(s.pidFile, PIDRecord{PID: pid, Path: path, StartedAt: startedAt}); err != nil {
			s.logger.Warn("write pid file", "error", err)
		}
	}

	s.deliverStarted(nil)

	s.logger.Info("backend running", "pid", pid, "path", path)
	running := events.Lifecycle(s.spec.Name, events.TypeRunning, fmt.Sprintf("running pid=%d", pid), attempt, "", nil)
	running.Pid = pid
	s.emit(ctx, running)

	releaseDone := make(chan struct{})
	stopRelease := context.AfterFunc(ctx, func() {
		defer close(releaseDone)
		s.logger.Info("releasing backend", "pid", pid)
		s.emitNow(events.Lifecycle(s.spec.Name, events.TypeStopping, "releasing sidecar", attempt, events.ReasonShutdown, nil))
		if err := child.Release(context.Background()); err != nil {
			s.logger.Warn("release backend", "pid", pid, "error", err)
		}
	})

	probeCtx, stopProbe := context.WithCancel(ctx)
	var probeWG sync.WaitGroup
	if s.spec.Health != nil {
		probeWG.Add(1)
		go func() {
			defer probeWG.Done()
			s.watchReadiness(probeCtx, attempt)
		}()
	}

	// Drain until both streams end. This is the only long block.
	var dropped int
	for out := range child.Output() {
		s.countLine(out.Stream)
		evt := events.Event{
			Timestamp: out.At,
			Source:    s.spec.Name,
			Type:      events.TypeOutput,
			Message:   out.Line,
			Stream:    out.Stream,
			Pid:       pid,
		}
		if dropped > 0 {
			if !s.emitDropped(dropped, false) {
				s.countDropped(1)
				dropped++
				continue
			}
			dropped = 0
		}
		if !s.offer(events.Normalize(evt)) {
			s.countDropped(1)
			dropped++
		}
	}
	if dropped > 0 {
		s.emitDropped(dropped, true)
	}

	if !stopRelease() {
		<-releaseDone
	}
	stopProbe()
	probeWG.Wait()

	if err := child.Release(context.Background()); err != nil {
		s.logger.Warn("release backend", "pid", pid, "error", err)
	}
	exitErr := child.Wait(context.Background())
	code := child.ExitCode()

	if s.pidFile != "" {
		if err := RemovePIDFile(s.pidFile); err != nil {
			s.logger.Warn("remove pid file", "error", err)
		}
	}

	s.mu.Lock()
	s.status.State = StateExited
	s.status.ExitedAt = time.Now()
	s.status.ExitCode = code
	s.status.Ready = false
	if exitErr != nil {
		s.status.LastError = exitErr.Error()
	}
	s.mu.Unlock()
	metrics.SetSidecarUp(false)
	metrics.SetSidecarReady(false)

	reason := events.ReasonStreamClosed
	switch {
	case ctx.Err() != nil:
		reason = events.ReasonShutdown
	case exitErr != nil:
		reason = events.ReasonCrash
	}
	if reason == events.ReasonCrash {
		s.logger.Warn("backend exited", "pid", pid, "exit_code", code, "error", exitErr)
	} else {
		s.logger.Info("backend exited", "pid", pid, "exit_code", code)
	}
	exited := events.Lifecycle(s.spec.Name, events.TypeExited, fmt.Sprintf("exited code=%d", code), attempt, reason, exitErr)
	exited.Pid = pid
	exited.ExitCode = code
	s.emit(ctx, exited)

	return exitErr
}

func (s *Supervisor) watchReadiness(ctx context.Context, attempt int) {
	prober, err := probe.New(s.spec.Health)
	if err != nil {
		s.logger.Warn("readiness probe disabled", "error", err)
		return
	}
	prober = probe.Timed(prober, func(d time.Duration, _ error) {
		metrics.ObserveProbeLatency(d)
	})
	for transition := range probe.Watch(ctx, prober, s.spec.Health, nil) {
		ready := transition.Status == probe.StatusReady
		s.mu.Lock()
		s.status.Ready = ready
		s.mu.Unlock()
		metrics.SetSidecarReady(ready)

		if ready {
			s.logger.Info("backend ready")
			s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeReady, "sidecar ready", attempt, events.ReasonProbeReady, nil))
			continue
		}
		s.logger.Warn("backend unready", "reason", transition.Reason)
		s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeUnready, transition.Reason, attempt, events.ReasonProbeUnready, transition.Err))
	}
}

func (s *Supervisor) command(path string) Command {
	env := make(map[string]string, len(s.spec.Env))
	for k, v := range s.spec.Env {
		env[k] = v
	}
	return Command{
		Name:          s.spec.Name,
		Path:          path,
		Args:          append([]string(nil), s.spec.Args...),
		Env:           env,
		Dir:           s.spec.Workdir,
		ShutdownGrace: s.spec.ShutdownGrace.Duration,
		KillTimeout:   s.spec.KillTimeout.Duration,
	}
}

func (s *Supervisor) spawnFailed(ctx context.Context, err *SpawnError, attempt int) error {
	s.mu.Lock()
	s.status.State = StateExited
	s.status.ExitedAt = time.Now()
	s.status.LastError = err.Error()
	s.mu.Unlock()
	metrics.SetSidecarUp(false)

	s.logger.Error("spawn failed", "error", err)
	s.emit(ctx, events.Lifecycle(s.spec.Name, events.TypeFailed, "failed to spawn sidecar", attempt, events.ReasonSpawnFailure, err))
	s.deliverStarted(err)
	return err
}

func (s *Supervisor) cleanupStale(path string) {
	if s.pidFile == "" || !s.spec.StaleCleanup() {
		return
	}
	res, err := CleanupStale(s.pidFile, path, staleCleanupWait)
	if err != nil {
		s.logger.Warn("stale sidecar cleanup", "error", err)
		return
	}
	if res.Found {
		s.logger.Info("stale sidecar record", "pid", res.Record.PID, "terminated", res.Terminated, "reason", res.Reason)
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *Supervisor) countLine(stream string) {
	s.mu.Lock()
	s.status.OutputLines[stream]++
	s.mu.Unlock()
	metrics.AddOutputLines(stream, 1)
}

func (s *Supervisor) countDropped(n int) {
	s.mu.Lock()
	s.status.Dropped += n
	s.mu.Unlock()
	metrics.AddOutputDropped(n)
}

func (s *Supervisor) deliverStarted(err error) {
	s.startedOnce.Do(func() {
		s.startedErr = err
		close(s.startedCh)
	})
}

// emit delivers a lifecycle event. It waits at most eventSendTimeout for a
// full buffer to drain, and not at all once ctx is done, so supervision never
// depends on a reader.
func (s *Supervisor) emit(ctx context.Context, evt events.Event) {
	if s.offer(evt) {
		return
	}
	timer := time.NewTimer(eventSendTimeout)
	defer timer.Stop()
	select {
	case s.events <- evt:
	case <-ctx.Done():
		s.emitNow(evt)
	case <-timer.C:
		s.logger.Warn("lifecycle event dropped, no reader", "type", evt.Type)
	}
}

func (s *Supervisor) emitNow(evt events.Event) {
	if !s.offer(evt) {
		s.logger.Debug("event dropped", "type", evt.Type)
	}
}

func (s *Supervisor) offer(evt events.Event) bool {
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

func (s *Supervisor) emitDropped(count int, block bool) bool {
	evt := events.Event{
		Timestamp: time.Now(),
		Source:    s.spec.Name,
		Type:      events.TypeOutput,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Stream:    events.StreamSystem,
	}
	if !block {
		return s.offer(evt)
	}
	timer := time.NewTimer(eventSendTimeout)
	defer timer.Stop()
	select {
	case s.events <- evt:
		return true
	case <-timer.C:
		return false
	}
}

// IsSpawnError reports whether err is a spawn failure.
func IsSpawnError(err error) bool {
	var spawnErr *SpawnError
	return errors.As(err, &spawnErr)
}
