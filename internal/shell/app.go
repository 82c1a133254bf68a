// Package shell wires the sidecar supervisor to the window, the log sink and
// the control API for the lifetime of one desktop session.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AreTaj/Migraine-Navigator/internal/api"
	httpapi "github.com/AreTaj/Migraine-Navigator/internal/api/http"
	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/cliutil"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
	"github.com/AreTaj/Migraine-Navigator/internal/logmux"
	"github.com/AreTaj/Migraine-Navigator/internal/metrics"
	"github.com/AreTaj/Migraine-Navigator/internal/sidecar"
)

const (
	muxBuffer      = 512
	logFileName    = "sidecar.log"
	pidFileName    = "sidecar.pid"
	shutdownMargin = 2 * time.Second
)

// ErrShutdownTimeout is returned when the backend outlives the shutdown
// timeout.
var ErrShutdownTimeout = errors.New("sidecar did not stop before the shutdown timeout")

// Window is the user-facing surface started alongside the backend.
type Window interface {
	// Run blocks until the window is closed or ctx is cancelled.
	Run(ctx context.Context) error
	EventSink() chan<- events.Event
	CloseEvents()
	// Wait blocks until the window has consumed its closed sink.
	Wait()
	MarkUsable()
	Stop()
	Done() <-chan struct{}
}

// Options configures an App.
type Options struct {
	Config *config.Shell
	Mode   buildmode.Mode
	Logger *slog.Logger

	// PIDFile overrides <data dir>/sidecar.pid. Empty disables the record
	// when no data directory can be determined.
	PIDFile string
	// LogOutput replaces the rotating sidecar log file.
	LogOutput io.Writer
	// ShutdownTimeout bounds how long Run waits for the backend to stop.
	ShutdownTimeout time.Duration
	// Resolve overrides sidecar path resolution.
	Resolve func() (string, error)
}

// App owns the supervisor and everything that consumes its events.
type App struct {
	cfg             *config.Shell
	mode            buildmode.Mode
	logger          *slog.Logger
	shutdownTimeout time.Duration

	sup     *sidecar.Supervisor
	mux     *logmux.Mux
	tracker *tracker

	sink      io.Writer
	sinkClose func() error

	setupOnce sync.Once
	setupErr  error

	cancelSup    context.CancelFunc
	group        errgroup.Group
	shutdownOnce sync.Once
	shutdownErr  error

	windowMu sync.RWMutex
	window   Window

	superviseMu  sync.Mutex
	superviseErr error
}

// New constructs an App. Nothing is started until Setup or Run.
func New(opts Options) *App {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = cfg.Sidecar.ShutdownGrace.Duration + cfg.Sidecar.KillTimeout.Duration + shutdownMargin
	}

	pidFile := opts.PIDFile
	if pidFile == "" {
		if dir, err := config.DataDir(); err == nil {
			pidFile = filepath.Join(dir, pidFileName)
		} else {
			logger.Warn("pid file disabled", "error", err)
		}
	}

	a := &App{
		cfg:             cfg,
		mode:            opts.Mode,
		logger:          logger.With("component", "shell"),
		shutdownTimeout: timeout,
		tracker:         newTracker(defaultHistory),
		sink:            opts.LogOutput,
	}
	a.sup = sidecar.New(sidecar.Options{
		Mode:    opts.Mode,
		Sidecar: cfg.Sidecar,
		PIDFile: pidFile,
		Logger:  logger,
		Resolve: opts.Resolve,
	})
	a.mux = logmux.New(muxBuffer, logmux.WithDropHook(metrics.AddOutputDropped))
	return a
}

// Supervisor exposes the underlying supervisor.
func (a *App) Supervisor() *sidecar.Supervisor {
	return a.sup
}

// Setup starts the supervisor on its own goroutine and the event pump. It
// runs once; later calls return the first call's result.
func (a *App) Setup(ctx context.Context) error {
	a.setupOnce.Do(func() {
		a.setupErr = a.setup(ctx)
	})
	return a.setupErr
}

func (a *App) setup(ctx context.Context) error {
	if err := a.openSink(); err != nil {
		return err
	}

	supCtx, cancel := context.WithCancel(ctx)
	a.cancelSup = cancel

	a.mux.Add(a.sup.Events())

	a.group.Go(func() error {
		err := a.sup.Supervise(supCtx)
		a.mux.Close()
		if err != nil {
			a.superviseMu.Lock()
			a.superviseErr = err
			a.superviseMu.Unlock()
			// The first spawn failure reaches Run through AwaitStarted.
			a.logger.Error("supervisor stopped", "error", err)
		}
		return nil
	})

	a.group.Go(func() error {
		a.pump()
		return nil
	})

	if a.cfg.API.Enabled {
		server, err := httpapi.NewServer(httpapi.Config{Addr: a.cfg.API.Addr, Controller: a})
		if err != nil {
			cancel()
			return fmt.Errorf("control api: %w", err)
		}
		a.group.Go(func() error {
			a.logger.Info("control api listening", "addr", a.cfg.API.Addr)
			if err := server.Run(supCtx); err != nil {
				a.logger.Error("control api stopped", "error", err)
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
	}
	return nil
}

func (a *App) openSink() error {
	if a.sink != nil {
		return nil
	}
	dir, err := a.cfg.LogDir()
	if err != nil {
		return fmt.Errorf("sidecar log: %w", err)
	}
	file, err := cliutil.OpenLogFile(filepath.Join(dir, logFileName), int64(a.cfg.Logging.MaxFileSize), a.cfg.Logging.MaxFiles)
	if err != nil {
		return fmt.Errorf("sidecar log: %w", err)
	}
	a.logger.Debug("sidecar output persisted", "path", file.Filename)
	a.sink = file
	a.sinkClose = file.Close
	return nil
}

// pump forwards muxed events to the tracker, the log sink and the window
// until the supervisor's stream ends.
func (a *App) pump() {
	enc := json.NewEncoder(a.sink)
	failing := false
	for evt := range a.mux.Output() {
		a.tracker.Apply(evt)
		if err := cliutil.EncodeLogEvent(enc, evt); err != nil {
			if !failing {
				a.logger.Warn("sidecar log write failed", "error", err)
			}
			failing = true
		} else if failing {
			a.logger.Info("sidecar log writable again")
			failing = false
		}
		a.forward(evt)
	}
}

func (a *App) forward(evt events.Event) {
	a.windowMu.RLock()
	w := a.window
	a.windowMu.RUnlock()
	if w == nil {
		return
	}
	select {
	case w.EventSink() <- evt:
	case <-w.Done():
	}
}

// Run starts the backend and the window side by side. A spawn failure stops
// the window and is returned. Otherwise the window is marked usable and Run
// blocks until it closes or ctx is cancelled, then releases the backend.
func (a *App) Run(ctx context.Context, w Window) error {
	if w == nil {
		return fmt.Errorf("window is required")
	}
	a.windowMu.Lock()
	a.window = w
	a.windowMu.Unlock()

	if err := a.Setup(ctx); err != nil {
		return err
	}

	windowErr := make(chan error, 1)
	go func() {
		windowErr <- w.Run(ctx)
	}()

	if err := a.sup.AwaitStarted(ctx); err != nil {
		w.Stop()
		<-windowErr
		shutdownErr := a.Shutdown()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return shutdownErr
		}
		return err
	}

	w.MarkUsable()
	a.logger.Info("window usable", "mode", a.mode.String())

	var err error
	select {
	case err = <-windowErr:
	case <-ctx.Done():
		w.Stop()
		err = <-windowErr
	}
	if err != nil {
		err = fmt.Errorf("window: %w", err)
	}
	return errors.Join(err, a.Shutdown())
}

// Shutdown cancels the supervisor, which releases the backend, and waits for
// every goroutine started by Setup within the shutdown timeout.
func (a *App) Shutdown() error {
	if a.cancelSup == nil {
		return nil
	}
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown()
	})
	return a.shutdownErr
}

func (a *App) shutdown() error {
	a.cancelSup()

	timer := time.NewTimer(a.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-a.sup.Done():
	case <-timer.C:
		a.logger.Error("shutdown timed out", "timeout", a.shutdownTimeout)
		return ErrShutdownTimeout
	}

	groupErr := a.group.Wait()

	a.windowMu.RLock()
	w := a.window
	a.windowMu.RUnlock()
	if w != nil {
		w.CloseEvents()
		w.Wait()
	}

	var closeErr error
	if a.sinkClose != nil {
		closeErr = a.sinkClose()
	}
	return errors.Join(groupErr, closeErr)
}

// SuperviseErr reports the error Supervise returned, if any.
func (a *App) SuperviseErr() error {
	a.superviseMu.Lock()
	defer a.superviseMu.Unlock()
	return a.superviseErr
}

// Status implements api.Controller.
func (a *App) Status(ctx context.Context) (*api.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := a.sup.Status()
	report := api.SidecarReport{
		Name:        st.Name,
		State:       string(st.State),
		Path:        st.Path,
		Pid:         st.Pid,
		Ready:       st.Ready,
		StartedAt:   st.StartedAt,
		ExitedAt:    st.ExitedAt,
		LastError:   cliutil.RedactSecrets(st.LastError),
		Spawns:      st.Spawns,
		Restarts:    st.Restarts,
		OutputLines: st.OutputLines,
		Dropped:     st.Dropped,
		History:     a.tracker.History(),
	}
	if st.State == sidecar.StateExited && st.Spawns > 0 {
		code := st.ExitCode
		report.ExitCode = &code
	}
	return &api.StatusReport{
		Mode:        a.mode.String(),
		GeneratedAt: time.Now(),
		Sidecar:     report,
	}, nil
}

// Health implements api.Controller. Development mode is always healthy since
// the backend is managed elsewhere.
func (a *App) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.mode.Spawns() {
		return nil
	}
	if msg := a.tracker.SpawnFailure(); msg != "" {
		return fmt.Errorf("%w: %s", api.ErrSpawnFailed, msg)
	}
	st := a.sup.Status()
	if st.State != sidecar.StateRunning {
		return fmt.Errorf("%w: state %s", api.ErrSidecarNotRunning, st.State)
	}
	if a.cfg.Sidecar.Health != nil && !st.Ready {
		return api.ErrSidecarNotReady
	}
	return nil
}
