//go:build headless

package main

import "sync/atomic"

// Headless builds take over the ebiten constructor name so nothing else in
// the engine has to care that there is no window.
type HeadlessDisplay struct {
	lifecycle  windowLifecycle
	events     windowEventQueue
	started    atomic.Bool
	config     DisplayConfig
	frameCount atomic.Uint64
	lastFrame  []byte
}

func NewEbitenDisplay(cfg DisplayConfig) (DisplayOutput, error) {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = 60
	}
	return &HeadlessDisplay{config: cfg}, nil
}

func (h *HeadlessDisplay) Start() error {
	if h.started.Swap(true) {
		return nil
	}
	h.lifecycle.transition(WindowMapped)
	h.events.push(WindowEvent{Kind: WindowEventMapped})
	return nil
}

func (h *HeadlessDisplay) Stop() error {
	if !h.started.Swap(false) {
		return nil
	}
	return h.lifecycle.transition(WindowClosing)
}

func (h *HeadlessDisplay) Close() error {
	if h.lifecycle.State() == WindowDestroyed {
		return nil
	}
	h.Stop()
	h.lifecycle.transition(WindowClosing)
	h.lifecycle.transition(WindowDestroyed)
	h.events.push(WindowEvent{Kind: WindowEventDestroyed})
	return nil
}

func (h *HeadlessDisplay) IsStarted() bool {
	return h.started.Load()
}

func (h *HeadlessDisplay) State() WindowState {
	return h.lifecycle.State()
}

func (h *HeadlessDisplay) SetDisplayConfig(cfg DisplayConfig) error {
	h.config = cfg
	return nil
}

func (h *HeadlessDisplay) GetDisplayConfig() DisplayConfig {
	return h.config
}

func (h *HeadlessDisplay) UpdateFrame(buffer []byte) error {
	if h.lifecycle.State() == WindowDestroyed {
		return &BackendError{Operation: "frame update", Details: "window destroyed"}
	}
	if len(h.lastFrame) != len(buffer) {
		h.lastFrame = make([]byte, len(buffer))
	}
	copy(h.lastFrame, buffer)
	h.frameCount.Add(1)
	return nil
}

func (h *HeadlessDisplay) PollEvents() []WindowEvent {
	return h.events.drain()
}

func (h *HeadlessDisplay) WaitForVSync() error {
	return nil
}

func (h *HeadlessDisplay) GetFrameCount() uint64 {
	return h.frameCount.Load()
}

func (h *HeadlessDisplay) GetRefreshRate() int {
	if h.config.RefreshRate == 0 {
		return 60
	}
	return h.config.RefreshRate
}

// RequestClose injects a close request, standing in for the window button.
func (h *HeadlessDisplay) RequestClose() {
	h.events.push(WindowEvent{Kind: WindowEventCloseRequested})
}

func CopyToClipboard(string) bool { return false }

func init() {
	compiledFeatures = append(compiledFeatures, "display:headless")
}
