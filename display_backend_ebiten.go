//go:build !headless

// display_backend_ebiten.go - Ebiten GL window backend

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
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.design/x/clipboard"
)

// EbitenDisplay drives one resizable GL window. Ebiten picks Wayland or X11
// on its own, which is the whole point of using it here.
type EbitenDisplay struct {
	lifecycle windowLifecycle
	events    windowEventQueue

	running     atomic.Bool
	window      *ebiten.Image
	width       int
	height      int
	scale       int
	fullscreen  bool
	windowedW   int
	windowedH   int
	frameBuffer []byte
	bufferMutex sync.RWMutex
	frameCount  atomic.Uint64
	refreshRate int
	vsyncChan   chan struct{}
	runExit     chan error
	run         func(ebiten.Game) error
	mappedOnce  sync.Once

	lastOutsideW int
	lastOutsideH int
}

func NewEbitenDisplay(cfg DisplayConfig) (DisplayOutput, error) {
	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 480
	}
	scale := cfg.Scale
	if scale < 1 {
		scale = 1
	}
	return &EbitenDisplay{
		width:       width,
		height:      height,
		scale:       scale,
		fullscreen:  cfg.Fullscreen,
		windowedW:   width * scale,
		windowedH:   height * scale,
		frameBuffer: make([]byte, width*height*4),
		refreshRate: 60,
		vsyncChan:   make(chan struct{}, 1),
		runExit:     make(chan error, 1),
		run:         ebiten.RunGame,
	}, nil
}

func (d *EbitenDisplay) Start() error {
	if d.running.Load() {
		return nil
	}
	d.running.Store(true)

	ebiten.SetWindowSize(d.windowedW, d.windowedH)
	ebiten.SetWindowTitle("TempSense (c) 2024 - 2026 Zayn Otley")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowClosingHandled(true)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetVsyncEnabled(true)
	if d.fullscreen {
		ebiten.SetFullscreen(true)
	}

	go func() {
		err := d.run(d)
		if err != nil && err != ebiten.Termination {
			fmt.Printf("Ebiten error: %v\n", err)
		}
		d.running.Store(false)
		d.lifecycle.transition(WindowClosing)
		d.lifecycle.transition(WindowDestroyed)
		d.events.push(WindowEvent{Kind: WindowEventDestroyed})
		d.runExit <- err
	}()

	// Wait for the first Draw so the window is mapped before the loop runs.
	// If the run loop dies first (no GL context, no display) surface that
	// instead of blocking forever.
	select {
	case <-d.vsyncChan:
		return nil
	case err := <-d.runExit:
		if err == ebiten.Termination {
			err = nil
		}
		return &BackendError{
			Operation: "start",
			Details:   "window loop exited before first frame",
			Err:       err,
		}
	}
}

func (d *EbitenDisplay) Stop() error {
	if err := d.lifecycle.transition(WindowClosing); err != nil {
		return err
	}
	d.running.Store(false)
	return nil
}

func (d *EbitenDisplay) Close() error {
	if d.lifecycle.State() == WindowDestroyed {
		return nil
	}
	d.lifecycle.transition(WindowClosing)
	d.running.Store(false)
	return nil
}

func (d *EbitenDisplay) IsStarted() bool {
	return d.running.Load()
}

func (d *EbitenDisplay) State() WindowState {
	return d.lifecycle.State()
}

func (d *EbitenDisplay) UpdateFrame(data []byte) error {
	if d.lifecycle.State() == WindowDestroyed {
		return &BackendError{Operation: "frame update", Details: "window destroyed"}
	}
	d.bufferMutex.Lock()
	copy(d.frameBuffer, data)
	d.bufferMutex.Unlock()
	return nil
}

func (d *EbitenDisplay) SetDisplayConfig(cfg DisplayConfig) error {
	d.bufferMutex.Lock()
	defer d.bufferMutex.Unlock()

	if cfg.Width > 0 {
		d.width = cfg.Width
	}
	if cfg.Height > 0 {
		d.height = cfg.Height
	}
	if cfg.Scale >= 1 {
		d.scale = cfg.Scale
	}
	newSize := d.width * d.height * 4
	if len(d.frameBuffer) != newSize {
		d.frameBuffer = make([]byte, newSize)
	}

	d.windowedW = d.width * d.scale
	d.windowedH = d.height * d.scale
	d.fullscreen = cfg.Fullscreen
	if d.running.Load() {
		ebiten.SetFullscreen(d.fullscreen)
		if !d.fullscreen {
			ebiten.SetWindowSize(d.windowedW, d.windowedH)
		}
	}
	if d.window != nil {
		d.window.Deallocate()
		d.window = nil
	}
	return nil
}

func (d *EbitenDisplay) GetDisplayConfig() DisplayConfig {
	d.bufferMutex.RLock()
	defer d.bufferMutex.RUnlock()
	return DisplayConfig{
		Width:       d.width,
		Height:      d.height,
		Scale:       d.scale,
		RefreshRate: d.refreshRate,
		Fullscreen:  d.fullscreen,
		VSync:       true,
	}
}

func (d *EbitenDisplay) PollEvents() []WindowEvent {
	return d.events.drain()
}

func (d *EbitenDisplay) WaitForVSync() error {
	<-d.vsyncChan
	return nil
}

func (d *EbitenDisplay) GetFrameCount() uint64 {
	return d.frameCount.Load()
}

func (d *EbitenDisplay) GetRefreshRate() int {
	return d.refreshRate
}

var keyBindings = []struct {
	key    ebiten.Key
	action KeyAction
}{
	{ebiten.KeyF12, KeyToggleStatusBar},
	{ebiten.KeyL, KeyToggleLogPage},
	{ebiten.KeyC, KeyCopySnapshot},
	{ebiten.KeySpace, KeyToggleActive},
	{ebiten.KeyQ, KeyQuit},
	{ebiten.KeyEscape, KeyQuit},
}

// Update is ebiten's per-tick input hook. It translates raw keys into engine
// actions and watches for the window close button.
func (d *EbitenDisplay) Update() error {
	if !d.running.Load() {
		return ebiten.Termination
	}
	if ebiten.IsWindowBeingClosed() {
		d.events.push(WindowEvent{Kind: WindowEventCloseRequested})
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		d.bufferMutex.Lock()
		d.fullscreen = !d.fullscreen
		ebiten.SetFullscreen(d.fullscreen)
		if !d.fullscreen {
			ebiten.SetWindowSize(d.windowedW, d.windowedH)
		}
		d.bufferMutex.Unlock()
		d.events.push(WindowEvent{Kind: WindowEventKey, Key: KeyToggleFullscreen})
	}
	for _, binding := range keyBindings {
		if inpututil.IsKeyJustPressed(binding.key) {
			d.events.push(WindowEvent{Kind: WindowEventKey, Key: binding.action})
		}
	}

	if w, h := ebiten.WindowSize(); w != d.lastOutsideW || h != d.lastOutsideH {
		if d.lastOutsideW != 0 || d.lastOutsideH != 0 {
			d.events.push(WindowEvent{Kind: WindowEventResized, Width: w, Height: h})
		}
		d.lastOutsideW, d.lastOutsideH = w, h
	}
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	d.mappedOnce.Do(func() {
		d.lifecycle.transition(WindowMapped)
		d.events.push(WindowEvent{Kind: WindowEventMapped})
	})

	if d.window == nil {
		d.window = ebiten.NewImage(d.width, d.height)
	}
	d.bufferMutex.RLock()
	d.window.WritePixels(d.frameBuffer)
	d.bufferMutex.RUnlock()
	screen.DrawImage(d.window, nil)

	d.frameCount.Add(1)
	select {
	case d.vsyncChan <- struct{}{}:
	default:
	}
}

func (d *EbitenDisplay) Layout(_, _ int) (int, int) {
	return d.width, d.height
}

var (
	clipboardOnce sync.Once
	clipboardOK   bool
)

// CopyToClipboard puts a reading snapshot on the system clipboard. Clipboard
// init can fail on exotic setups; that just turns the copy key into a no-op.
func CopyToClipboard(text string) bool {
	clipboardOnce.Do(func() {
		clipboardOK = clipboard.Init() == nil
	})
	if !clipboardOK {
		return false
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return true
}

func init() {
	compiledFeatures = append(compiledFeatures, "display:ebiten")
}
