package tui

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func newTestWindow(t *testing.T) *Window {
	t.Helper()
	w := New()
	t.Cleanup(w.Stop)
	return w
}

func TestHandleKeyRespectsOverlayFocus(t *testing.T) {
	w := newTestWindow(t)
	w.app.SetFocus(w.output)

	slash := tcell.NewEventKey(tcell.KeyRune, '/', tcell.ModNone)
	if res := w.handleKey(slash); res != nil {
		t.Fatalf("expected filter shortcut to be consumed when output focused")
	}

	if _, ok := w.app.GetFocus().(*tview.InputField); !ok {
		t.Fatalf("expected filter input to have focus, got %T", w.app.GetFocus())
	}

	quit := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := w.handleKey(quit); res != quit {
		t.Fatalf("expected q to reach the filter input while it is focused")
	}
	select {
	case <-w.Done():
		t.Fatalf("window stopped while typing into the filter")
	default:
	}

	w.pages.RemovePage(filterPageName)
	w.app.SetFocus(w.output)

	runeEvent := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if res := w.handleKey(runeEvent); res != runeEvent {
		t.Fatalf("expected unbound rune to pass through")
	}
}

func TestHandleKeyTogglesJSON(t *testing.T) {
	w := newTestWindow(t)
	w.app.SetFocus(w.output)

	key := tcell.NewEventKey(tcell.KeyRune, 'j', tcell.ModNone)
	if res := w.handleKey(key); res != nil {
		t.Fatalf("expected j to be consumed")
	}
	if !w.jsonOutput {
		t.Fatalf("expected JSON output after toggle")
	}
	w.handleKey(key)
	if w.jsonOutput {
		t.Fatalf("expected text output after second toggle")
	}
}

func TestHandleKeyQuitStopsWindow(t *testing.T) {
	w := newTestWindow(t)
	w.app.SetFocus(w.output)

	quit := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if res := w.handleKey(quit); res != nil {
		t.Fatalf("expected q to be consumed")
	}
	<-w.Done()
}

func TestHandleKeyCtrlCStopsWindow(t *testing.T) {
	w := newTestWindow(t)
	w.showFilterPrompt()

	if res := w.handleKey(tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)); res != nil {
		t.Fatalf("expected ctrl-c to be consumed even with the filter open")
	}
	<-w.Done()
}
