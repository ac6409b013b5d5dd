// app_loop.go - Cooperative engine cycle tying all workers to the render tick

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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Engine owns every component and drives the cooperative cycle: poll window
// events, drain the device monitor, drain serial and OSC and link queues,
// merge into the reading store, then compose and present one frame. Blocking
// work lives in the workers; the loop itself only ever drains channels.
type Engine struct {
	cfg      Config
	clock    Clock
	log      *zap.Logger
	eventLog *EventLog

	store    *ReadingStore
	monitor  *SensorMonitor
	osc      *OSCListener
	espLinks []*ESPLink
	link     *LinkClient
	renderer *OverlayRenderer
	sounder  *AlertSounder
	script   *ScriptHook
	control  *ControlServer
	metrics  *MetricsServer

	settings     Settings
	settingsLock sync.Mutex
	active       atomic.Bool
	seq          uint64
	serialUp     map[string]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewEngine wires the components but starts nothing. Display backend
// selection happens here so an unusable display fails before any window
// logic runs.
func NewEngine(cfg Config, clock Clock, log *zap.Logger, eventLog *EventLog) (*Engine, error) {
	if clock == nil {
		clock = SystemClock
	}

	backend, err := selectDisplayBackend(cfg.Display)
	if err != nil {
		return nil, err
	}
	displayCfg := DisplayConfig{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Scale:       1,
		RefreshRate: cfg.FrameRate,
	}
	renderer, err := NewOverlayRenderer(
		func() (DisplayOutput, error) { return NewDisplayOutput(backend, displayCfg) },
		cfg.StaleAfter.Duration(), cfg.AlertLimit, eventLog, clock, log)
	if err != nil {
		return nil, err
	}

	settings := LoadSettings()
	// The last used OSC address wins over the built-in default, but an
	// explicit flag or config file value wins over both.
	oscAddr := cfg.OSCListen
	if oscAddr == DefaultConfig().OSCListen && settings.OSCAddr != "" {
		oscAddr = settings.OSCAddr
	}

	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		log:      log.Named("engine"),
		eventLog: eventLog,
		store:    NewReadingStore(clock),
		monitor:  NewSensorMonitor(cfg.ScanInterval.Duration(), cfg.SerialPorts, clock, log),
		osc:      NewOSCListener(oscAddr, clock, log),
		renderer: renderer,
		sounder:  NewAlertSounder(cfg.Silent, cfg.AlertLimit, clock, log),
		settings: settings,
		serialUp: map[string]bool{},
		done:     make(chan struct{}),
	}
	e.active.Store(e.settings.Active)

	for _, port := range cfg.SerialPorts {
		e.espLinks = append(e.espLinks, NewESPLink(port, cfg.BaudRate, clock, log))
	}
	if cfg.Link.Address != "" {
		link, err := NewLinkClient(cfg.Link, clock, log)
		if err != nil {
			return nil, err
		}
		e.link = link
	}
	if cfg.Script != "" {
		script, err := NewScriptHook(cfg.Script, log)
		if err != nil {
			return nil, err
		}
		e.script = script
		e.sounder.OnAlert = script.OnAlert
	}
	return e, nil
}

// Run starts every worker and drives ticks until the window closes, a fatal
// error surfaces, or Stop is called. All resources are released on every
// exit path.
func (e *Engine) Run() error {
	defer e.teardown()

	if err := e.renderer.Start(); err != nil {
		return err
	}

	// Sensor absence is degraded, not fatal.
	if err := e.monitor.Start(); err != nil {
		var merr *MonitorError
		if !errors.As(err, &merr) {
			return err
		}
		e.log.Warn("device monitor unavailable, running without local sensors", zap.Error(err))
	} else {
		e.store.SetHealth(func(h *HealthFlags) { h.MonitorOK = true })
	}

	if err := e.osc.Start(); err != nil {
		e.log.Warn("OSC listener unavailable", zap.Error(err))
	} else {
		e.store.SetHealth(func(h *HealthFlags) { h.OSCOK = true })
	}

	for _, link := range e.espLinks {
		link.Start()
	}
	if e.link != nil {
		e.link.Start()
	}

	control, err := NewControlServer(resolveControlSocketPath(e.cfg.IPCSocket), e)
	if err != nil {
		return err
	}
	e.control = control
	e.control.Start()

	if e.cfg.MetricsListen != "" {
		e.metrics = StartMetricsServer(e.cfg.MetricsListen, e.log)
	}

	interval := time.Second / time.Duration(e.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return nil
		case <-ticker.C:
			quit, err := e.tick()
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// Stop asks the loop to exit. Safe from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// tick runs one cooperative cycle. Split out from Run so tests can drive the
// engine deterministically.
func (e *Engine) tick() (quit bool, err error) {
	out := e.renderer.Output()
	for _, ev := range out.PollEvents() {
		switch ev.Kind {
		case WindowEventCloseRequested, WindowEventDestroyed:
			e.log.Info("window closed")
			return true, nil
		case WindowEventKey:
			e.handleKey(ev.Key)
		}
	}

	e.drainMonitor()
	e.drainSerial()
	e.drainOSC()
	e.drainLink()

	snap := e.store.Snapshot()
	states := e.renderer.panelStates(snap, e.clock.Now())
	e.sounder.Evaluate(states, e.active.Load())

	if err := e.renderer.Present(snap); err != nil {
		var rerr *RenderError
		if errors.As(err, &rerr) {
			return false, err
		}
		e.log.Warn("present failed", zap.Error(err))
	}
	return false, nil
}

func (e *Engine) handleKey(key KeyAction) {
	switch key {
	case KeyQuit:
		e.Stop()
	case KeyToggleStatusBar:
		e.renderer.ToggleStatusBar()
	case KeyToggleLogPage:
		e.renderer.ToggleLogPage()
	case KeyToggleActive:
		e.SetActive(!e.active.Load())
	case KeyCopySnapshot:
		text := SnapshotText(e.store.Snapshot(), e.clock.Now(), e.cfg.StaleAfter.Duration())
		if CopyToClipboard(text) {
			e.log.Info("snapshot copied to clipboard")
		}
	}
}

func (e *Engine) drainMonitor() {
	for {
		select {
		case ev, ok := <-e.monitor.Events():
			if !ok {
				return
			}
			e.log.Info("device "+ev.Kind.String(), zap.String("device", ev.Device.ID))
			e.store.ApplyDevice(ev)
		default:
			return
		}
	}
}

func (e *Engine) drainSerial() {
	for _, link := range e.espLinks {
		draining := true
		for draining {
			select {
			case st := <-link.Status():
				e.handleESPStatus(link, st)
			default:
				draining = false
			}
		}
	}
}

func (e *Engine) handleESPStatus(link *ESPLink, st ESPStatus) {
	switch st.Kind {
	case ESPConnected:
		e.serialUp[st.Port] = true
		e.updateSerialHealth()
		if e.active.Load() {
			link.SetActive(true)
		}
	case ESPDisconnected:
		e.serialUp[st.Port] = false
		e.updateSerialHealth()
	case ESPLine:
		e.handleReportLine(st)
	}
}

func (e *Engine) updateSerialHealth() {
	n := 0
	for _, up := range e.serialUp {
		if up {
			n++
		}
	}
	e.store.SetHealth(func(h *HealthFlags) { h.SerialActive = n })
}

func (e *Engine) handleReportLine(st ESPStatus) {
	if !looksLikeReport(st.Line) {
		// Firmware chatter (ping replies, boot messages) is log-only.
		e.log.Debug("esp", zap.String("port", st.Port), zap.String("line", st.Line))
		return
	}
	e.seq++
	reading, err := DecodeReport([]byte(st.Line), e.deviceFor(st.Port), st.At, e.seq)
	if err != nil {
		var derr *DecodeError
		if errors.As(err, &derr) {
			metricReadingsDropped.WithLabelValues(derr.Kind.String()).Inc()
		}
		e.log.Warn("dropping report", zap.String("port", st.Port), zap.Error(err))
		return
	}
	metricReadingsDecoded.WithLabelValues("serial").Inc()

	reading, keep := e.script.OnReading(reading)
	if !keep {
		return
	}
	e.store.ApplyReading(reading)
	if e.link != nil {
		e.link.Send(reading)
	}
}

// deviceFor resolves the monitor's handle for a serial port, falling back to
// a synthetic handle when the monitor is down. Readings must always carry
// the handle that was valid at capture time.
func (e *Engine) deviceFor(port string) DeviceHandle {
	id := filepath.Base(port)
	if dev, ok := e.store.Snapshot().Devices[id]; ok {
		return dev
	}
	return DeviceHandle{
		ID:    id,
		Path:  port,
		Caps:  CAP_TEMPERATURE | CAP_TARGET,
		State: DeviceConnected,
	}
}

func (e *Engine) drainOSC() {
	for {
		select {
		case u := <-e.osc.Targets():
			v := e.cfg.ClampTarget(u.Value)
			e.applyTarget(u.Channel, v, u.At)
		default:
			return
		}
	}
}

// applyTarget records the target locally and pushes it to every probe.
func (e *Engine) applyTarget(channel int, degrees float64, at time.Time) {
	e.seq++
	e.store.ApplyReading(SensorReading{
		DeviceID:   "osc",
		Channel:    channel,
		Metric:     MetricTarget,
		Raw:        rawForValue(degrees),
		Seq:        e.seq,
		CapturedAt: at,
	})
	for _, link := range e.espLinks {
		link.SetTarget(channel, degrees)
	}
	e.settingsLock.Lock()
	if channel >= 0 && channel < NumChannels {
		e.settings.Targets[channel] = degrees
	}
	e.settingsLock.Unlock()
}

func (e *Engine) drainLink() {
	if e.link == nil {
		return
	}
	var batch []SensorReading
	for {
		select {
		case r := <-e.link.Inbound():
			metricReadingsDecoded.WithLabelValues("link").Inc()
			batch = append(batch, r)
		case st := <-e.link.Status():
			e.store.SetHealth(func(h *HealthFlags) {
				h.LinkState = st.State
				h.LinkPeer = st.Peer
			})
			if st.Err != nil {
				var cerr *ConnectError
				if errors.As(st.Err, &cerr) && cerr.Kind == ConnectUnauthorized {
					e.log.Error("link permanently down", zap.Error(st.Err))
				}
			}
		default:
			e.store.ApplyReadings(batch)
			return
		}
	}
}

// StatusReadings implements ControlHandler.
func (e *Engine) StatusReadings() []ControlReading {
	snap := e.store.Snapshot()
	now := e.clock.Now()
	var out []ControlReading
	for ch := 0; ch < NumChannels; ch++ {
		for _, metric := range []Metric{MetricTemperature, MetricTarget, MetricDuty} {
			r, ok := snap.ChannelReading(ch, metric)
			if !ok {
				continue
			}
			out = append(out, ControlReading{
				Channel: ch,
				Metric:  metric.String(),
				Value:   r.Value(),
				Unit:    metric.Unit(),
				Device:  r.DeviceID,
				AgeMS:   now.Sub(r.CapturedAt).Milliseconds(),
				Stale:   r.StaleAt(now, e.cfg.StaleAfter.Duration()),
				Remote:  r.Remote,
			})
		}
	}
	return out
}

// SetTarget implements ControlHandler.
func (e *Engine) SetTarget(channel int, temp float64) error {
	if temp < e.cfg.TempMin || temp > e.cfg.TempMax {
		return fmt.Errorf("target %.1f outside %.1f..%.1f", temp, e.cfg.TempMin, e.cfg.TempMax)
	}
	e.applyTarget(channel, temp, e.clock.Now())
	return nil
}

// SetActive implements ControlHandler.
func (e *Engine) SetActive(on bool) error {
	e.active.Store(on)
	e.settingsLock.Lock()
	e.settings.Active = on
	e.settingsLock.Unlock()
	var firstErr error
	for _, link := range e.espLinks {
		if err := link.SetActive(on); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.log.Info("active switched", zap.Bool("on", on))
	return firstErr
}

// LogTail implements ControlHandler.
func (e *Engine) LogTail(n int) []string {
	entries := e.eventLog.Tail(n)
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.String()
	}
	return out
}

// teardown releases everything in reverse start order. Every Stop involved
// is idempotent, so partial startups tear down cleanly too.
func (e *Engine) teardown() {
	if e.metrics != nil {
		e.metrics.Stop()
	}
	if e.control != nil {
		e.control.Stop()
	}
	if e.link != nil {
		e.link.Stop()
	}
	for _, link := range e.espLinks {
		link.Stop()
	}
	e.osc.Stop()
	e.monitor.Stop()
	e.sounder.Close()
	e.script.Close()
	e.renderer.Close()

	e.settingsLock.Lock()
	settings := e.settings
	e.settingsLock.Unlock()
	settings.OSCAddr = e.osc.addr
	cfg := e.renderer.Output().GetDisplayConfig()
	if cfg.Width > 0 && cfg.Height > 0 {
		settings.WindowWidth = cfg.Width
		settings.WindowHeight = cfg.Height
		settings.Fullscreen = cfg.Fullscreen
	}
	if err := SaveSettings(settings); err != nil {
		e.log.Warn("settings not saved", zap.Error(err))
	}
	e.log.Info("shutdown complete")
}
