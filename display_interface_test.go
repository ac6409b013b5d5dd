// display_interface_test.go - Tests for the window state machine and event queue

package main

import (
	"errors"
	"testing"
)

// TestWindowLifecycleLegalPath walks the full legal lifecycle.
func TestWindowLifecycleLegalPath(t *testing.T) {
	var w windowLifecycle
	if w.State() != WindowCreated {
		t.Fatalf("Expected initial state created, got %v", w.State())
	}
	for _, to := range []WindowState{WindowMapped, WindowClosing, WindowDestroyed} {
		if err := w.transition(to); err != nil {
			t.Fatalf("Expected transition to %v to succeed: %v", to, err)
		}
		if w.State() != to {
			t.Errorf("Expected state %v, got %v", to, w.State())
		}
	}
}

// TestWindowLifecycleIllegalTransitions verifies every disallowed jump fails
// with a BackendError and leaves the state untouched.
func TestWindowLifecycleIllegalTransitions(t *testing.T) {
	cases := []struct {
		from WindowState
		to   WindowState
	}{
		{WindowCreated, WindowDestroyed},
		{WindowMapped, WindowCreated},
		{WindowMapped, WindowDestroyed},
		{WindowClosing, WindowMapped},
		{WindowDestroyed, WindowMapped},
		{WindowDestroyed, WindowClosing},
	}
	for _, tc := range cases {
		w := windowLifecycle{state: tc.from}
		err := w.transition(tc.to)
		if err == nil {
			t.Errorf("%v -> %v: expected error, got none", tc.from, tc.to)
			continue
		}
		var berr *BackendError
		if !errors.As(err, &berr) {
			t.Errorf("%v -> %v: expected *BackendError, got %T", tc.from, tc.to, err)
		}
		if w.State() != tc.from {
			t.Errorf("%v -> %v: expected state unchanged, got %v", tc.from, tc.to, w.State())
		}
	}
}

// TestWindowLifecycleSameStateNoop allows redundant transitions so backends
// can report the same state twice without error handling gymnastics.
func TestWindowLifecycleSameStateNoop(t *testing.T) {
	w := windowLifecycle{state: WindowMapped}
	if err := w.transition(WindowMapped); err != nil {
		t.Fatalf("Expected same-state transition to succeed: %v", err)
	}
}

// TestEventQueueOverflowKeepsClose fills the queue past capacity and expects
// the close request to survive while older events are shed.
func TestEventQueueOverflowKeepsClose(t *testing.T) {
	var q windowEventQueue
	q.push(WindowEvent{Kind: WindowEventCloseRequested})
	for i := 0; i < windowEventDepth*2; i++ {
		q.push(WindowEvent{Kind: WindowEventKey, Key: KeyToggleStatusBar})
	}

	events := q.drain()
	if len(events) > windowEventDepth {
		t.Errorf("Expected at most %d events, got %d", windowEventDepth, len(events))
	}
	foundClose := false
	for _, ev := range events {
		if ev.Kind == WindowEventCloseRequested {
			foundClose = true
		}
	}
	if !foundClose {
		t.Errorf("Expected close request to survive overflow")
	}
	if again := q.drain(); again != nil {
		t.Errorf("Expected drained queue to be empty, got %d events", len(again))
	}
}

// TestDisplayBackendByName checks flag values map to the right backends.
func TestDisplayBackendByName(t *testing.T) {
	cases := []struct {
		name    string
		backend int
		wantErr bool
	}{
		{"ebiten", DISPLAY_BACKEND_EBITEN, false},
		{"gl", DISPLAY_BACKEND_EBITEN, false},
		{"term", DISPLAY_BACKEND_TERMINAL, false},
		{"terminal", DISPLAY_BACKEND_TERMINAL, false},
		{"auto", -1, false},
		{"", -1, false},
		{"sdl", 0, true},
	}
	for _, tc := range cases {
		got, err := displayBackendByName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got backend %d", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: expected success, got %v", tc.name, err)
			continue
		}
		if got != tc.backend {
			t.Errorf("%q: expected backend %d, got %d", tc.name, tc.backend, got)
		}
	}
}
