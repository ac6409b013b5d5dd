// display_interface.go - Display backend interface and window state machine

/*
▄▄▄█████▓▓█████  ███▄ ▄███▓ ██▓███    ██████ ▓█████  ███▄    █   ██████ ▓█████
▓  ██▒ ▓▒▓█   ▀ ▓██▒▀█▀ ██▒▓██░  ██▒▒██    ▒ ▓█   ▀  ██ ▀█   █ ▒██    ▒ ▓█   ▀
▒ ▓██░ ▒░▒███   ▓██    ▓██░▓██░ ██▓▒░ ▓██▄   ▒███   ▓██  ▀█ ██▒░ ▓██▄   ▒███
░ ▓██▓ ░ ▒▓█  ▄ ▒██    ▒██ ▒██▄█▓▒ ▒  ▒   ██▒▒▓█  ▄ ▓██▒  ▐▌██▒  ▒   ██▒▒▓█  ▄
  ▒██▒ ░ ░▒████▒▒██▒   ░██▒▒██▒ ░  ░▒██████▒▒░▒████▒▒██░   ▓██░▒██████▒▒░▒████▒
  ▒ ░░   ░░ ▒░ ░░ ▒░   ░  ░▒▓▒░ ░  ░▒ ▒▓▒ ▒ ░░░ ▒░ ░░ ▒░   ▒ ▒ ▒ ▒▓▒ ▒ ░░░ ▒░ ░
    ░     ░ ░  ░░  ░      ░░▒ ░     ░ ░▒  ░ ░ ░ ░  ░░ ░░   ░ ▒░░ ░▒  ░ ░ ░ ░  ░
  ░         ░   ░      ░   ░░       ░  ░  ░     ░      ░   ░ ░ ░  ░  ░     ░
            ░  ░       ░                  ░     ░  ░         ░       ░     ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

// BackendError provides detailed error context for display operations.
type BackendError struct {
	Operation string // What operation was being attempted
	Details   string // Additional error context
	Err       error  // Underlying error if any
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("display %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("display %s failed: %s", e.Operation, e.Details)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DisplayConfig contains backend-independent window configuration.
type DisplayConfig struct {
	Width       int
	Height      int
	Scale       int // Integer scaling factor for output
	RefreshRate int // Target refresh rate in Hz
	Fullscreen  bool
	VSync       bool // Whether to sync frame updates to display refresh
}

// WindowState is the lifecycle position of the backend's single window.
type WindowState int

const (
	WindowCreated WindowState = iota
	WindowMapped
	WindowClosing
	WindowDestroyed
)

func (s WindowState) String() string {
	switch s {
	case WindowCreated:
		return "created"
	case WindowMapped:
		return "mapped"
	case WindowClosing:
		return "closing"
	case WindowDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("window(%d)", int(s))
}

// windowLifecycle enforces Created -> Mapped -> (resize)* -> Closing ->
// Destroyed. Resizes are events on a Mapped window, not a state of their own.
type windowLifecycle struct {
	mutex sync.Mutex
	state WindowState
}

var legalWindowTransitions = map[WindowState][]WindowState{
	WindowCreated: {WindowMapped, WindowClosing},
	WindowMapped:  {WindowClosing},
	WindowClosing: {WindowDestroyed},
}

func (w *windowLifecycle) State() WindowState {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

func (w *windowLifecycle) transition(to WindowState) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.state == to {
		return nil
	}
	for _, next := range legalWindowTransitions[w.state] {
		if next == to {
			w.state = to
			return nil
		}
	}
	return &BackendError{
		Operation: "window transition",
		Details:   fmt.Sprintf("%s cannot become %s", w.state, to),
	}
}

// WindowEventKind enumerates what the backend reports to the loop.
type WindowEventKind int

const (
	WindowEventMapped WindowEventKind = iota
	WindowEventResized
	WindowEventKey
	WindowEventCloseRequested
	WindowEventDestroyed
)

func (k WindowEventKind) String() string {
	switch k {
	case WindowEventMapped:
		return "mapped"
	case WindowEventResized:
		return "resized"
	case WindowEventKey:
		return "key"
	case WindowEventCloseRequested:
		return "close-requested"
	case WindowEventDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Engine-level key actions. Backends translate their raw input into these so
// the loop never sees backend key codes.
type KeyAction int

const (
	KeyNone KeyAction = iota
	KeyQuit
	KeyToggleFullscreen
	KeyToggleStatusBar
	KeyToggleLogPage
	KeyCopySnapshot
	KeyToggleActive
)

// WindowEvent is one item from the backend's bounded event queue.
type WindowEvent struct {
	Kind   WindowEventKind
	Width  int // Set for resized
	Height int
	Key    KeyAction // Set for key
}

const windowEventDepth = 64

// windowEventQueue is the bounded hand-off between the backend's input side
// and PollEvents. Overflow drops the oldest event; a close request is never
// the one shed.
type windowEventQueue struct {
	mutex  sync.Mutex
	events []WindowEvent
}

func (q *windowEventQueue) push(ev WindowEvent) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.events) >= windowEventDepth {
		for i, old := range q.events {
			if old.Kind != WindowEventCloseRequested {
				q.events = append(q.events[:i], q.events[i+1:]...)
				metricQueueDrops.WithLabelValues("window").Inc()
				break
			}
		}
		if len(q.events) >= windowEventDepth {
			return
		}
	}
	q.events = append(q.events, ev)
}

func (q *windowEventQueue) drain() []WindowEvent {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	return out
}

// DisplayOutput is the single capability set every backend implements. The
// application loop owns exactly one of these; PollEvents is its only window
// suspension point and must return without blocking.
type DisplayOutput interface {
	// Lifecycle management
	Start() error
	Stop() error
	Close() error
	IsStarted() bool
	State() WindowState

	// Core display operations - kept minimal
	SetDisplayConfig(config DisplayConfig) error
	GetDisplayConfig() DisplayConfig
	UpdateFrame(buffer []byte) error // Takes raw RGBA pixels only

	// Input and timing
	PollEvents() []WindowEvent
	WaitForVSync() error
	GetFrameCount() uint64
	GetRefreshRate() int
}

// Predefined display backend types
const (
	DISPLAY_BACKEND_EBITEN   = iota // GL window via Ebiten (Wayland/X11)
	DISPLAY_BACKEND_TERMINAL        // ANSI half-block cell renderer
)

// displayBackendByName maps the -display flag to a backend constant. "auto"
// resolves at startup via selectDisplayBackend.
func displayBackendByName(name string) (int, error) {
	switch name {
	case "auto", "":
		return -1, nil
	case "ebiten", "gl":
		return DISPLAY_BACKEND_EBITEN, nil
	case "term", "terminal":
		return DISPLAY_BACKEND_TERMINAL, nil
	}
	return 0, &BackendError{
		Operation: "backend selection",
		Details:   fmt.Sprintf("unknown display backend %q", name),
	}
}

// selectDisplayBackend resolves "auto": a reachable display server wins, a
// TTY falls back to the cell renderer, anything else is fatal before any
// window logic runs.
func selectDisplayBackend(name string) (int, error) {
	backend, err := displayBackendByName(name)
	if err != nil {
		return 0, err
	}
	if backend >= 0 {
		return backend, nil
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("DISPLAY") != "" {
		return DISPLAY_BACKEND_EBITEN, nil
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return DISPLAY_BACKEND_TERMINAL, nil
	}
	return 0, &BackendError{
		Operation: "backend selection",
		Details:   "no display server reachable and stdout is not a terminal",
	}
}

// NewDisplayOutput creates a display output using the specified backend.
func NewDisplayOutput(backend int, cfg DisplayConfig) (DisplayOutput, error) {
	switch backend {
	case DISPLAY_BACKEND_EBITEN:
		return NewEbitenDisplay(cfg)
	case DISPLAY_BACKEND_TERMINAL:
		return NewTerminalDisplay(cfg)
	}
	return nil, &BackendError{
		Operation: "backend creation",
		Details:   fmt.Sprintf("unknown backend type: %d", backend),
	}
}
