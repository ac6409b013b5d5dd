// sensor_monitor.go - Hotplug monitor for sensor serial devices

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
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MonitorError wraps failures of the device monitor itself, as opposed to
// failures of individual devices.
type MonitorError struct {
	Operation string
	Details   string
	Err       error
}

func (e *MonitorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("monitor %s failed: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("monitor %s failed: %s", e.Operation, e.Details)
}

func (e *MonitorError) Unwrap() error { return e.Err }

const monitorQueueDepth = 64

// listSerialDevices scans the /dev namespace for candidate probe ports.
// There is no udev subscription here on purpose: a 500ms rescan is plenty
// for a cable being plugged in, and it works inside containers too.
func listSerialDevices() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
			out = append(out, filepath.Join("/dev", name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// SensorMonitor watches for probe hotplug by diffing periodic scans of the
// device namespace. It owns the authoritative device table; consumers get
// value snapshots and a bounded event stream.
//
// Events for one device always arrive in observation order. Events across
// devices carry no ordering guarantee.
type SensorMonitor struct {
	interval time.Duration
	extra    []string
	list     func() ([]string, error)
	clock    Clock
	log      *zap.Logger

	mutex   sync.Mutex
	known   map[string]DeviceHandle
	events  chan DeviceEvent
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewSensorMonitor builds a monitor rescanning at interval. Extra paths are
// checked with os.Stat on every scan in addition to the namespace listing,
// which covers bind-mounted or symlinked ports.
func NewSensorMonitor(interval time.Duration, extra []string, clock Clock, log *zap.Logger) *SensorMonitor {
	if clock == nil {
		clock = SystemClock
	}
	return &SensorMonitor{
		interval: interval,
		extra:    extra,
		list:     listSerialDevices,
		clock:    clock,
		log:      log.Named("monitor"),
		known:    map[string]DeviceHandle{},
	}
}

// Start performs the initial scan and launches the rescan loop. A failure to
// read the device namespace is fatal to the monitor and reported as a
// *MonitorError; the caller decides whether to continue without local
// devices.
func (m *SensorMonitor) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.started {
		return nil
	}

	m.known = map[string]DeviceHandle{}
	m.events = make(chan DeviceEvent, monitorQueueDepth)
	if err := m.scanLocked(); err != nil {
		return &MonitorError{Operation: "start", Details: "device namespace unreadable", Err: err}
	}

	m.done = make(chan struct{})
	m.started = true
	m.wg.Add(1)
	go m.loop(m.done)
	return nil
}

// Stop ends the rescan loop within one interval and closes the event stream.
// Idempotent. A later Start begins a fresh cycle on a fresh channel.
func (m *SensorMonitor) Stop() {
	m.mutex.Lock()
	if !m.started {
		m.mutex.Unlock()
		return
	}
	m.started = false
	close(m.done)
	m.mutex.Unlock()

	m.wg.Wait()
	close(m.events)
}

// Events returns the current subscription. The channel closes when the
// monitor stops; a restarted monitor hands out a new one.
func (m *SensorMonitor) Events() <-chan DeviceEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.events
}

// Snapshot returns the current device table sorted by ID.
func (m *SensorMonitor) Snapshot() []DeviceHandle {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]DeviceHandle, 0, len(m.known))
	for _, h := range m.known {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *SensorMonitor) loop(done chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.mutex.Lock()
			err := m.scanLocked()
			m.mutex.Unlock()
			if err != nil {
				m.log.Warn("rescan failed", zap.Error(err))
			}
		}
	}
}

// scanLocked diffs one namespace listing against the known table and emits
// hotplug events. Caller holds m.mutex.
func (m *SensorMonitor) scanLocked() error {
	paths, err := m.list()
	if err != nil {
		return err
	}
	for _, p := range m.extra {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}

	seen := map[string]string{}
	for _, p := range paths {
		seen[filepath.Base(p)] = p
	}
	now := m.clock.Now()

	ids := make([]string, 0, len(m.known))
	for id := range m.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			h := m.known[id]
			delete(m.known, id)
			h.State = DeviceDisconnected
			m.emit(DeviceEvent{Kind: DeviceRemoved, Device: h, At: now})
		}
	}

	ids = ids[:0]
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		path := seen[id]
		if h, ok := m.known[id]; ok {
			if h.Path != path {
				h.Path = path
				m.known[id] = h
				m.emit(DeviceEvent{Kind: DeviceUpdated, Device: h, At: now})
			}
			continue
		}
		h := DeviceHandle{
			ID:    id,
			Path:  path,
			Caps:  CAP_TEMPERATURE | CAP_TARGET,
			State: DeviceConnected,
		}
		m.known[id] = h
		m.emit(DeviceEvent{Kind: DeviceAdded, Device: h, At: now})
	}
	return nil
}

func (m *SensorMonitor) emit(ev DeviceEvent) {
	select {
	case m.events <- ev:
	default:
		// A stalled consumer loses hotplug history, not the device table;
		// the next snapshot still has the truth.
		metricQueueDrops.WithLabelValues("monitor").Inc()
		m.log.Warn("event queue full, dropping",
			zap.String("device", ev.Device.ID),
			zap.String("kind", ev.Kind.String()))
	}
}
