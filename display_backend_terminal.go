// display_backend_terminal.go - ANSI half-block cell renderer for TTYs

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
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/term"
)

// TerminalDisplay renders the RGBA frame onto a TTY using half-block cells:
// each character carries two vertically stacked pixels via 24-bit foreground
// and background colours. Input comes from raw-mode stdin.
type TerminalDisplay struct {
	lifecycle windowLifecycle
	events    windowEventQueue

	width       int
	height      int
	refreshRate int
	frameCount  atomic.Uint64
	running     atomic.Bool

	mutex        sync.Mutex
	out          *os.File
	cols         int
	rows         int
	oldTermState *term.State
	nonblockSet  bool
	lastPresent  time.Time

	stopCh   chan struct{}
	readDone chan struct{}
	stopOnce sync.Once
}

func NewTerminalDisplay(cfg DisplayConfig) (DisplayOutput, error) {
	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 480
	}
	rate := cfg.RefreshRate
	if rate <= 0 {
		rate = 30
	}
	return &TerminalDisplay{
		width:       width,
		height:      height,
		refreshRate: rate,
		out:         os.Stdout,
		stopCh:      make(chan struct{}),
		readDone:    make(chan struct{}),
	}, nil
}

func (d *TerminalDisplay) Start() error {
	if d.running.Load() {
		return nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &BackendError{Operation: "terminal start", Details: "stdin is not a terminal"}
	}
	cols, rows, err := term.GetSize(int(d.out.Fd()))
	if err != nil {
		return &BackendError{Operation: "terminal start", Details: "cannot query terminal size", Err: err}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return &BackendError{Operation: "terminal start", Details: "cannot set raw mode", Err: err}
	}
	d.oldTermState = oldState
	if err := syscall.SetNonblock(fd, true); err == nil {
		d.nonblockSet = true
	}

	d.mutex.Lock()
	d.cols = cols
	d.rows = rows
	d.mutex.Unlock()

	// Alternate screen, cursor off.
	fmt.Fprint(d.out, "\x1b[?1049h\x1b[?25l\x1b[2J")

	d.running.Store(true)
	d.lifecycle.transition(WindowMapped)
	d.events.push(WindowEvent{Kind: WindowEventMapped})
	go d.readLoop(fd)
	return nil
}

func (d *TerminalDisplay) Stop() error {
	if !d.running.Load() {
		return nil
	}
	if err := d.lifecycle.transition(WindowClosing); err != nil {
		return err
	}
	d.teardown()
	return nil
}

func (d *TerminalDisplay) Close() error {
	if d.lifecycle.State() == WindowDestroyed {
		return nil
	}
	d.lifecycle.transition(WindowClosing)
	d.teardown()
	d.lifecycle.transition(WindowDestroyed)
	d.events.push(WindowEvent{Kind: WindowEventDestroyed})
	return nil
}

func (d *TerminalDisplay) teardown() {
	if !d.running.Swap(false) {
		return
	}
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.readDone

	fd := int(os.Stdin.Fd())
	if d.nonblockSet {
		syscall.SetNonblock(fd, false)
		d.nonblockSet = false
	}
	if d.oldTermState != nil {
		term.Restore(fd, d.oldTermState)
		d.oldTermState = nil
	}
	// Cursor back on, normal screen.
	fmt.Fprint(d.out, "\x1b[?25h\x1b[?1049l")
}

func (d *TerminalDisplay) IsStarted() bool {
	return d.running.Load()
}

func (d *TerminalDisplay) State() WindowState {
	return d.lifecycle.State()
}

func (d *TerminalDisplay) SetDisplayConfig(cfg DisplayConfig) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if cfg.Width > 0 {
		d.width = cfg.Width
	}
	if cfg.Height > 0 {
		d.height = cfg.Height
	}
	if cfg.RefreshRate > 0 {
		d.refreshRate = cfg.RefreshRate
	}
	return nil
}

func (d *TerminalDisplay) GetDisplayConfig() DisplayConfig {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return DisplayConfig{
		Width:       d.width,
		Height:      d.height,
		Scale:       1,
		RefreshRate: d.refreshRate,
	}
}

func (d *TerminalDisplay) PollEvents() []WindowEvent {
	d.checkResize()
	return d.events.drain()
}

func (d *TerminalDisplay) checkResize() {
	if !d.running.Load() {
		return
	}
	cols, rows, err := term.GetSize(int(d.out.Fd()))
	if err != nil {
		return
	}
	d.mutex.Lock()
	changed := cols != d.cols || rows != d.rows
	if changed {
		d.cols = cols
		d.rows = rows
	}
	d.mutex.Unlock()
	if changed {
		fmt.Fprint(d.out, "\x1b[2J")
		d.events.push(WindowEvent{Kind: WindowEventResized, Width: cols, Height: rows * 2})
	}
}

// UpdateFrame downsamples the RGBA buffer to the cell grid with nearest
// sampling and repaints the whole screen. Terminals are slow; correctness
// over cleverness here.
func (d *TerminalDisplay) UpdateFrame(buffer []byte) error {
	if d.lifecycle.State() == WindowDestroyed {
		return &BackendError{Operation: "frame update", Details: "window destroyed"}
	}
	if !d.running.Load() {
		return nil
	}

	d.mutex.Lock()
	cols, rows := d.cols, d.rows
	width, height := d.width, d.height
	d.mutex.Unlock()
	if cols <= 0 || rows <= 0 || len(buffer) < width*height*4 {
		return nil
	}

	var sb strings.Builder
	sb.Grow(cols * rows * 24)
	sb.WriteString("\x1b[H")
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			topR, topG, topB := samplePixel(buffer, width, height, col, row*2, cols, rows*2)
			botR, botG, botB := samplePixel(buffer, width, height, col, row*2+1, cols, rows*2)
			fmt.Fprintf(&sb, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				topR, topG, topB, botR, botG, botB)
		}
		sb.WriteString("\x1b[0m")
		if row < rows-1 {
			sb.WriteString("\r\n")
		}
	}
	if _, err := d.out.WriteString(sb.String()); err != nil {
		return &BackendError{Operation: "frame present", Details: "terminal write failed", Err: err}
	}
	d.frameCount.Add(1)
	return nil
}

// samplePixel maps a cell-grid coordinate back into the source frame.
func samplePixel(buffer []byte, width, height, x, y, gridW, gridH int) (byte, byte, byte) {
	srcX := x * width / gridW
	srcY := y * height / gridH
	if srcX >= width {
		srcX = width - 1
	}
	if srcY >= height {
		srcY = height - 1
	}
	off := (srcY*width + srcX) * 4
	return buffer[off], buffer[off+1], buffer[off+2]
}

// WaitForVSync paces the caller at the configured refresh rate. There is no
// real vblank on a TTY, so this is a sleep from the last present.
func (d *TerminalDisplay) WaitForVSync() error {
	d.mutex.Lock()
	interval := time.Second / time.Duration(d.refreshRate)
	last := d.lastPresent
	d.lastPresent = time.Now()
	d.mutex.Unlock()

	if !last.IsZero() {
		if wait := interval - time.Since(last); wait > 0 {
			time.Sleep(wait)
		}
	}
	return nil
}

func (d *TerminalDisplay) GetFrameCount() uint64 {
	return d.frameCount.Load()
}

func (d *TerminalDisplay) GetRefreshRate() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.refreshRate
}

func (d *TerminalDisplay) readLoop(fd int) {
	defer close(d.readDone)
	buf := make([]byte, 1)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		n, err := syscall.Read(fd, buf)
		if n > 0 {
			d.handleKey(buf[0])
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			return
		}
	}
}

func (d *TerminalDisplay) handleKey(b byte) {
	switch b {
	case 'q', 'Q', 0x1B, 0x03: // q, Escape, Ctrl-C
		d.events.push(WindowEvent{Kind: WindowEventCloseRequested})
	case 's', 'S':
		d.events.push(WindowEvent{Kind: WindowEventKey, Key: KeyToggleStatusBar})
	case 'l', 'L':
		d.events.push(WindowEvent{Kind: WindowEventKey, Key: KeyToggleLogPage})
	case 'c', 'C':
		d.events.push(WindowEvent{Kind: WindowEventKey, Key: KeyCopySnapshot})
	case ' ':
		d.events.push(WindowEvent{Kind: WindowEventKey, Key: KeyToggleActive})
	}
}

func init() {
	compiledFeatures = append(compiledFeatures, "display:terminal")
}
