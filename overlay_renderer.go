// overlay_renderer.go - Frame composition and presentation of the telemetry overlay

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
	"time"

	"go.uber.org/zap"
)

// RenderError reports presentation failures. Unrecoverable ones bubble to the
// application loop, which shuts the engine down.
type RenderError struct {
	Operation string
	Details   string
	Err       error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("render %s failed: %s", e.Operation, e.Details)
}

func (e *RenderError) Unwrap() error { return e.Err }

// panelState is the display decision for one channel, separated from pixel
// work so it can be asserted on directly.
type panelState struct {
	Channel  int
	HasValue bool
	Value    float64
	Target   float64
	HasTgt   bool
	Age      time.Duration
	Stale    bool
	Hot      bool
	Remote   bool
	Device   string
}

// OverlayRenderer composes reading snapshots into frames and presents them.
// It is the stable handle in front of the display output: when a present
// fails the backend underneath is torn down and recreated while everyone
// else keeps pointing at the renderer.
type OverlayRenderer struct {
	create     func() (DisplayOutput, error)
	out        DisplayOutput
	canvas     *overlayCanvas
	staleAfter time.Duration
	alertLimit float64
	clock      Clock
	log        *zap.Logger
	eventLog   *EventLog

	showStatusBar bool
	showLogPage   bool
	recoveries    int
}

// NewOverlayRenderer builds the renderer and creates the initial backend via
// create, which is also the recovery path after context loss.
func NewOverlayRenderer(create func() (DisplayOutput, error), staleAfter time.Duration,
	alertLimit float64, eventLog *EventLog, clock Clock, log *zap.Logger) (*OverlayRenderer, error) {
	if clock == nil {
		clock = SystemClock
	}
	out, err := create()
	if err != nil {
		return nil, err
	}
	cfg := out.GetDisplayConfig()
	return &OverlayRenderer{
		create:        create,
		out:           out,
		canvas:        newOverlayCanvas(cfg.Width, cfg.Height),
		staleAfter:    staleAfter,
		alertLimit:    alertLimit,
		clock:         clock,
		log:           log.Named("render"),
		eventLog:      eventLog,
		showStatusBar: true,
	}, nil
}

// Output exposes the current backend for event polling. The pointer may
// change after a recovery, so callers take it fresh each tick.
func (r *OverlayRenderer) Output() DisplayOutput {
	return r.out
}

func (r *OverlayRenderer) Start() error { return r.out.Start() }

func (r *OverlayRenderer) Close() error { return r.out.Close() }

func (r *OverlayRenderer) ToggleStatusBar() { r.showStatusBar = !r.showStatusBar }

func (r *OverlayRenderer) ToggleLogPage() { r.showLogPage = !r.showLogPage }

// Present composes the snapshot and hands the frame to the backend. A failed
// present triggers one backend recreation; presentation resumes on the next
// tick. Two consecutive recreation failures are unrecoverable.
func (r *OverlayRenderer) Present(snap *ReadingSnapshot) error {
	now := r.clock.Now()
	r.compose(snap, now)

	if err := r.out.UpdateFrame(r.canvas.Pixels()); err != nil {
		return r.recover(err)
	}
	r.recoveries = 0
	metricFramesPresented.Inc()
	return nil
}

func (r *OverlayRenderer) recover(cause error) error {
	r.recoveries++
	r.log.Warn("present failed, recreating backend",
		zap.Int("attempt", r.recoveries), zap.Error(cause))

	r.out.Close()
	out, err := r.create()
	if err == nil {
		err = out.Start()
	}
	if err != nil {
		if r.recoveries >= 2 {
			return &RenderError{
				Operation: "context recovery",
				Details:   fmt.Sprintf("gave up after %d attempts", r.recoveries),
				Err:       err,
			}
		}
		return nil
	}
	r.out = out
	cfg := out.GetDisplayConfig()
	r.canvas = newOverlayCanvas(cfg.Width, cfg.Height)
	return nil
}

// panelStates derives what each channel should show at now. Freshest reading
// per channel wins; a reading past the threshold renders stale rather than
// disappearing.
func (r *OverlayRenderer) panelStates(snap *ReadingSnapshot, now time.Time) []panelState {
	states := make([]panelState, NumChannels)
	staleCount := 0
	for ch := 0; ch < NumChannels; ch++ {
		st := panelState{Channel: ch}
		if reading, ok := snap.ChannelReading(ch, MetricTemperature); ok {
			st.HasValue = true
			st.Value = reading.Value()
			st.Age = now.Sub(reading.CapturedAt)
			st.Stale = reading.StaleAt(now, r.staleAfter)
			st.Hot = reading.Value() >= r.alertLimit
			st.Remote = reading.Remote
			st.Device = reading.DeviceID
			if st.Stale {
				staleCount++
			}
		}
		if target, ok := snap.ChannelReading(ch, MetricTarget); ok {
			st.HasTgt = true
			st.Target = target.Value()
		}
		states[ch] = st
	}
	metricStaleChannels.Set(float64(staleCount))
	return states
}

func (r *OverlayRenderer) compose(snap *ReadingSnapshot, now time.Time) {
	c := r.canvas
	c.Fill(colBackground)

	if r.showLogPage {
		r.composeLogPage(c)
	} else {
		r.composePanels(c, r.panelStates(snap, now))
	}
	if r.showStatusBar {
		r.composeStatusBar(c, snap)
	}
}

const (
	panelCols   = 4
	panelMargin = 8
)

func (r *OverlayRenderer) composePanels(c *overlayCanvas, states []panelState) {
	rows := (len(states) + panelCols - 1) / panelCols
	barSpace := 0
	if r.showStatusBar {
		barSpace = statusBarHeight
	}
	panelW := (c.Width() - panelMargin*(panelCols+1)) / panelCols
	panelH := (c.Height() - barSpace - panelMargin*(rows+1)) / rows

	for i, st := range states {
		x := panelMargin + (i%panelCols)*(panelW+panelMargin)
		y := panelMargin + (i/panelCols)*(panelH+panelMargin)
		r.composePanel(c, x, y, panelW, panelH, st)
	}
}

func (r *OverlayRenderer) composePanel(c *overlayCanvas, x, y, w, h int, st panelState) {
	c.FillRect(x, y, w, h, colPanel)
	c.StrokeRect(x, y, w, h, colPanelEdge)

	label := fmt.Sprintf("CH%d", st.Channel+1)
	c.DrawText(x+6, y+4, label, colText)
	if st.Remote {
		c.DrawText(x+6+TextWidth(label)+6, y+4, "R", colRemote)
	}

	valueCol := colValue
	value := "--.-"
	if st.HasValue {
		value = fmt.Sprintf("%.1f", st.Value)
		switch {
		case st.Stale:
			valueCol = colValueStale
		case st.Hot:
			valueCol = colValueHot
		}
	} else {
		valueCol = colTextDim
	}
	scale := (h - 40) / glyphHeight
	if scale < 1 {
		scale = 1
	}
	if scale > 3 {
		scale = 3
	}
	c.DrawTextScaled(x+6, y+20, value, valueCol, scale)
	unitX := x + 6 + TextWidth(value)*scale + 4
	c.DrawText(unitX, y+20+(scale-1)*glyphHeight, "°C", colTextDim)

	footY := y + h - glyphHeight - 4
	if st.Stale {
		c.DrawText(x+6, footY, fmt.Sprintf("STALE %ds", int(st.Age.Seconds())), colStaleTag)
	} else if st.HasTgt {
		c.DrawText(x+6, footY, fmt.Sprintf("tgt %.0f", st.Target), colTextDim)
	}
	if st.Device != "" {
		dev := st.Device
		if maxW := w - 12; TextWidth(dev) > maxW {
			for len(dev) > 0 && TextWidth(dev+"~") > maxW {
				dev = dev[:len(dev)-1]
			}
			dev += "~"
		}
		c.DrawText(x+w-6-TextWidth(dev), y+4, dev, colTextDim)
	}
}

func (r *OverlayRenderer) composeLogPage(c *overlayCanvas) {
	c.DrawText(panelMargin, panelMargin, "EVENT LOG", colText)
	if r.eventLog == nil {
		return
	}
	top := panelMargin + glyphHeight + 4
	avail := c.Height() - top - statusBarHeight
	lines := avail / (glyphHeight + 2)
	for i, entry := range r.eventLog.Tail(lines) {
		c.DrawText(panelMargin, top+i*(glyphHeight+2), entry.String(), colTextDim)
	}
}

const statusBarHeight = 20

type healthToken struct {
	name    string
	enabled bool
}

func (r *OverlayRenderer) composeStatusBar(c *overlayCanvas, snap *ReadingSnapshot) {
	y := c.Height() - statusBarHeight
	c.FillRect(0, y, c.Width(), statusBarHeight, colBarBack)

	tokens := []healthToken{
		{name: "MON", enabled: snap.Health.MonitorOK},
		{name: "OSC", enabled: snap.Health.OSCOK},
		{name: fmt.Sprintf("ESP:%d", snap.Health.SerialActive), enabled: snap.Health.SerialActive > 0},
		{name: "LINK", enabled: snap.Health.LinkState == LinkEstablished},
	}
	x := 6
	textY := y + (statusBarHeight-glyphHeight)/2
	for _, token := range tokens {
		col := colHealthOff
		if token.enabled {
			col = colHealthOn
		}
		c.DrawText(x, textY, token.name, col)
		x += TextWidth(token.name) + 10
	}
	if snap.Health.LinkPeer != "" {
		c.DrawText(x, textY, "@"+snap.Health.LinkPeer, colRemote)
	}

	legend := "L Log  C Copy  Q Quit"
	c.DrawText(c.Width()-TextWidth(legend)-6, textY, legend, colTextDim)
}

// SnapshotText renders the current readings as plain text for the clipboard.
func SnapshotText(snap *ReadingSnapshot, now time.Time, staleAfter time.Duration) string {
	out := fmt.Sprintf("TempSense %s\n", now.Format("15:04:05"))
	for ch := 0; ch < NumChannels; ch++ {
		reading, ok := snap.ChannelReading(ch, MetricTemperature)
		if !ok {
			out += fmt.Sprintf("CH%d --.-\n", ch+1)
			continue
		}
		mark := ""
		if reading.StaleAt(now, staleAfter) {
			mark = " (stale)"
		}
		out += fmt.Sprintf("CH%d %.2f°C%s\n", ch+1, reading.Value(), mark)
	}
	return out
}
