// Package tui renders the shell's window: a header describing the backend
// and a scrolling tail of its output.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/AreTaj/Migraine-Navigator/internal/cliutil"
	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

const (
	headerTitle         = "Migraine Navigator"
	outputTitle         = "Backend output"
	filterPageName      = "filter"
	defaultLogRetention = 500
	eventBuffer         = 256
	refreshInterval     = 500 * time.Millisecond
	drawerStopTimeout   = time.Second
)

// Option configures Window behaviour.
type Option func(*Window)

// WithMaxLogs sets the number of output lines retained in the tail.
func WithMaxLogs(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.maxLogs = n
		}
	}
}

// WithMode labels the header with the build mode.
func WithMode(mode string) Option {
	return func(w *Window) {
		w.state.mode = mode
	}
}

// WithSidecarName sets the backend name shown before the first event.
func WithSidecarName(name string) Option {
	return func(w *Window) {
		w.state.name = name
	}
}

// Window is the interactive surface backed by tview.
type Window struct {
	app    *tview.Application
	pages  *tview.Pages
	header *tview.TextView
	output *tview.TextView
	events chan events.Event

	state   sidecarState
	records []cliutil.LogRecord

	jsonOutput bool
	filter     string
	filterExpr *regexp.Regexp
	maxLogs    int

	mu          sync.RWMutex
	dirtyOutput bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// runMu guards the loop lifecycle. running is true between the first
	// draw and Stop; only then may the drawer queue updates.
	runMu      sync.Mutex
	running    bool
	stopped    bool
	startOnce  sync.Once
	redraw     chan struct{}
	drawerDone chan struct{}

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

type sidecarState struct {
	mode      string
	name      string
	state     events.Type
	pid       int
	ready     bool
	restarts  int
	usable    bool
	message   string
	lastEvent time.Time
}

// New constructs a Window configured with the supplied options.
func New(opts ...Option) *Window {
	app := tview.NewApplication()

	header := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	header.SetBorder(true).SetTitle(headerTitle)

	output := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	output.SetBorder(true).SetTitle(outputTitle)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 5, 0, false).
		AddItem(output, 0, 1, true)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	w := &Window{
		app:        app,
		pages:      pages,
		header:     header,
		output:     output,
		events:     make(chan events.Event, eventBuffer),
		maxLogs:    defaultLogRetention,
		redraw:     make(chan struct{}, 1),
		drawerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(w.handleKey)
	app.SetAfterDrawFunc(w.afterDraw)

	w.mu.Lock()
	w.renderHeaderLocked()
	w.mu.Unlock()

	return w
}

// EventSink exposes the channel where supervisor events should be delivered.
func (w *Window) EventSink() chan<- events.Event {
	return w.events
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (w *Window) CloseEvents() {
	w.closeOnce.Do(func() {
		close(w.events)
	})
}

// Done returns a channel that is closed when the window stops.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// MarkUsable flips the header from starting to usable.
func (w *Window) MarkUsable() {
	w.mu.Lock()
	w.state.usable = true
	w.mu.Unlock()
	w.requestRefresh(false)
}

// Run starts the tview application and processes incoming events until Stop
// is invoked or the provided context is cancelled. A terminal that cannot be
// initialised is reported as an error.
func (w *Window) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consumeEvents(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()

	w.runMu.Lock()
	stopped := w.stopped
	w.runMu.Unlock()
	if stopped {
		return nil
	}

	err := w.app.Run()

	// The loop is gone, so Stop must neither wait for queued draws nor
	// finalise a screen that may never have been initialised.
	w.runMu.Lock()
	w.running = false
	w.runMu.Unlock()
	w.Stop()

	return err
}

// afterDraw marks the loop as live on its first draw.
func (w *Window) afterDraw(tcell.Screen) {
	w.startOnce.Do(func() {
		w.runMu.Lock()
		defer w.runMu.Unlock()
		if w.stopped {
			go w.app.Stop()
			return
		}
		w.running = true
		go w.drawLoop()
	})
}

// drawLoop is the only goroutine that queues updates on the tview loop.
func (w *Window) drawLoop() {
	defer close(w.drawerDone)
	for {
		select {
		case <-w.done:
			return
		case <-w.redraw:
			w.app.QueueUpdateDraw(w.render)
		}
	}
}

// Wait blocks until the event consumer has drained the closed sink.
func (w *Window) Wait() {
	w.wg.Wait()
}

// Stop terminates the application loop. It is safe to call before Run, after
// Run returned, and from any goroutine other than the tview loop.
func (w *Window) Stop() {
	w.stopOnce.Do(func() {
		w.cancelMu.Lock()
		cancel := w.cancel
		w.cancel = nil
		w.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}

		w.runMu.Lock()
		running := w.running
		w.running = false
		w.stopped = true
		w.runMu.Unlock()

		close(w.done)
		if !running {
			return
		}
		select {
		case <-w.drawerDone:
		case <-time.After(drawerStopTimeout):
		}
		w.app.Stop()
	})
}

func (w *Window) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	draining := false
	ctxDone := ctx.Done()

	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-ctxDone:
			draining = true
			ticker.Stop()
			ctxDone = nil
		case evt, ok := <-w.events:
			if !ok {
				return
			}
			if draining {
				continue
			}
			w.applyEvent(evt)
		case <-tick:
			w.requestRefresh(false)
		}
	}
}

func (w *Window) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC {
		go w.Stop()
		return nil
	}
	if w.overlayFocused() {
		return event
	}
	switch event.Key() {
	case tcell.KeyUp, tcell.KeyDown, tcell.KeyPgUp, tcell.KeyPgDn:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go w.Stop()
			return nil
		case '/':
			w.showFilterPrompt()
			return nil
		case 'j', 'J':
			w.toggleJSON()
			return nil
		}
	}
	return event
}

func (w *Window) overlayFocused() bool {
	if !w.pages.HasPage(filterPageName) {
		return false
	}
	focus := w.app.GetFocus()
	return focus != w.output && focus != w.header
}

func (w *Window) toggleJSON() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jsonOutput = !w.jsonOutput
	w.renderOutputLocked()
}

func (w *Window) showFilterPrompt() {
	w.mu.RLock()
	current := w.filter
	w.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			w.applyFilter(input.GetText())
			w.pages.RemovePage(filterPageName)
			w.app.SetFocus(w.output)
		}).
		AddButton("Cancel", func() {
			w.pages.RemovePage(filterPageName)
			w.app.SetFocus(w.output)
		})

	form.SetBorder(true).SetTitle("Filter Output")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	w.pages.AddPage(filterPageName, grid, true, true)
	w.app.SetFocus(input)
}

func (w *Window) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		w.mu.Lock()
		w.filter = ""
		w.filterExpr = nil
		w.mu.Unlock()
		w.requestRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		w.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	w.mu.Lock()
	w.filter = expr
	w.filterExpr = re
	w.mu.Unlock()
	w.requestRefresh(true)
}

func (w *Window) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			w.pages.RemovePage(filterPageName)
			w.app.SetFocus(w.output)
		})

	w.pages.RemovePage(filterPageName)
	w.pages.AddPage(filterPageName, modal, true, true)
}

func (w *Window) applyEvent(evt events.Event) {
	w.mu.Lock()
	updateOutput := w.applyEventLocked(evt)
	w.mu.Unlock()

	w.requestRefresh(updateOutput)
}

// applyEventLocked folds evt into the window state and reports whether the
// output tail changed.
func (w *Window) applyEventLocked(evt events.Event) bool {
	evt = events.Normalize(evt)
	st := &w.state
	st.lastEvent = evt.Timestamp
	if evt.Source != "" {
		st.name = evt.Source
	}

	if evt.Type == events.TypeOutput {
		w.records = append(w.records, cliutil.NewLogRecord(evt))
		if len(w.records) > w.maxLogs {
			trim := len(w.records) - w.maxLogs
			w.records = append([]cliutil.LogRecord(nil), w.records[trim:]...)
		}
		return true
	}

	st.state = evt.Type
	st.message = cliutil.RedactSecrets(formatEventMessage(evt))
	switch evt.Type {
	case events.TypeRunning:
		st.pid = evt.Pid
	case events.TypeReady:
		st.ready = true
	case events.TypeUnready, events.TypeStopping, events.TypeExited, events.TypeFailed:
		st.ready = false
	case events.TypeRestarting:
		st.restarts++
	}
	if evt.Type == events.TypeExited {
		st.pid = 0
	}
	return false
}

// requestRefresh never blocks. While the loop is live the drawer applies the
// render on the loop; otherwise the text views are rendered in place.
func (w *Window) requestRefresh(updateOutput bool) {
	w.mu.Lock()
	w.dirtyOutput = w.dirtyOutput || updateOutput
	w.mu.Unlock()

	w.runMu.Lock()
	running := w.running
	w.runMu.Unlock()
	if !running {
		w.render()
		return
	}
	select {
	case w.redraw <- struct{}{}:
	default:
	}
}

func (w *Window) render() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renderHeaderLocked()
	if w.dirtyOutput {
		w.dirtyOutput = false
		w.renderOutputLocked()
	}
}

func (w *Window) renderHeaderLocked() {
	w.header.Clear()
	fmt.Fprint(w.header, headerText(w.state))
}

func headerText(st sidecarState) string {
	mode := st.mode
	if mode == "" {
		mode = "-"
	}
	name := st.name
	if name == "" {
		name = "-"
	}
	pid := "-"
	if st.pid > 0 {
		pid = fmt.Sprintf("%d", st.pid)
	}
	ready := "No"
	if st.ready {
		ready = "Yes"
	}
	usable := "[yellow]starting[-]"
	if st.usable {
		usable = "[green]usable[-]"
	}
	age := "-"
	if !st.lastEvent.IsZero() {
		age = time.Since(st.lastEvent).Truncate(time.Second).String()
	}
	message := st.message
	if len(message) > 100 {
		message = message[:97] + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s   Window: %s   Sidecar: %s\n", mode, usable, tview.Escape(name))
	fmt.Fprintf(&b, "State: %s   PID: %s   Ready: %s   Restarts: %d   Last event: %s ago\n",
		formatState(st.state), pid, ready, st.restarts, age)
	fmt.Fprintf(&b, "%s", tview.Escape(message))
	return b.String()
}

func (w *Window) renderOutputLocked() {
	w.output.Clear()
	if w.filter != "" {
		w.output.SetTitle(fmt.Sprintf("%s /%s/", outputTitle, w.filter))
	} else {
		w.output.SetTitle(outputTitle)
	}

	for _, record := range w.records {
		if w.filterExpr != nil && !w.filterExpr.MatchString(record.Message) {
			continue
		}
		if !w.jsonOutput {
			fmt.Fprintln(w.output, formatRecord(record))
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			fmt.Fprintf(w.output, "{\"error\":%q}\n", err.Error())
			continue
		}
		fmt.Fprintf(w.output, "%s\n", data)
	}
	w.output.ScrollToEnd()
}

func formatRecord(record cliutil.LogRecord) string {
	return fmt.Sprintf("%s %-6s %-5s %s",
		record.Timestamp.Format("15:04:05"), record.Stream, strings.ToUpper(record.Level), record.Message)
}

// formatEventMessage renders the human readable summary of a lifecycle event.
func formatEventMessage(evt events.Event) string {
	message := evt.Message
	if evt.Err != nil {
		if message == "" {
			message = evt.Err.Error()
		} else {
			message = message + ": " + evt.Err.Error()
		}
	}
	if evt.Reason == "" {
		return message
	}
	if message == "" {
		return evt.Reason
	}
	return fmt.Sprintf("%s (%s)", message, evt.Reason)
}

func formatState(t events.Type) string {
	if t == "" {
		return "-"
	}
	s := string(t)
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
