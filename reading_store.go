// reading_store.go - Merged reading set shared between workers and the render loop

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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ReadingKey addresses one merged reading slot.
type ReadingKey struct {
	DeviceID string
	Channel  int
	Metric   Metric
}

// HealthFlags summarises subsystem state for the status bar.
type HealthFlags struct {
	MonitorOK    bool
	OSCOK        bool
	LinkState    LinkState
	LinkPeer     string
	SerialActive int // Serial links currently connected
}

// ReadingSnapshot is an immutable view of the merged reading set. Writers
// build a fresh snapshot and publish it with a pointer swap; readers must
// treat the maps as read only.
type ReadingSnapshot struct {
	Readings map[ReadingKey]SensorReading
	Devices  map[string]DeviceHandle
	Health   HealthFlags
	Gen      uint64
	TakenAt  time.Time
}

// ChannelReading returns the freshest reading for a channel and metric across
// all devices. Later captures win; equal captures fall back to the higher
// sequence number.
func (s *ReadingSnapshot) ChannelReading(channel int, metric Metric) (SensorReading, bool) {
	var best SensorReading
	found := false
	for k, r := range s.Readings {
		if k.Channel != channel || k.Metric != metric {
			continue
		}
		if !found || r.CapturedAt.After(best.CapturedAt) ||
			(r.CapturedAt.Equal(best.CapturedAt) && r.Seq > best.Seq) {
			best = r
			found = true
		}
	}
	return best, found
}

// DeviceList returns the known devices sorted by ID for stable display order.
func (s *ReadingSnapshot) DeviceList() []DeviceHandle {
	out := make([]DeviceHandle, 0, len(s.Devices))
	for _, d := range s.Devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadingStore owns the merged reading set. All writers funnel through one
// mutex; the render loop loads the current snapshot without taking any lock,
// so a slow frame can never stall ingest and a snapshot can never tear.
type ReadingStore struct {
	mutex sync.Mutex // Writers only
	cur   atomic.Pointer[ReadingSnapshot]
	clock Clock
	gen   uint64
}

func NewReadingStore(clock Clock) *ReadingStore {
	if clock == nil {
		clock = SystemClock
	}
	s := &ReadingStore{clock: clock}
	s.cur.Store(&ReadingSnapshot{
		Readings: map[ReadingKey]SensorReading{},
		Devices:  map[string]DeviceHandle{},
		TakenAt:  clock.Now(),
	})
	return s
}

// Snapshot returns the current merged view. Lock free; safe from any
// goroutine.
func (s *ReadingStore) Snapshot() *ReadingSnapshot {
	return s.cur.Load()
}

// beginUpdate clones the published snapshot. Callers hold s.mutex.
func (s *ReadingStore) beginUpdate() *ReadingSnapshot {
	old := s.cur.Load()
	next := &ReadingSnapshot{
		Readings: make(map[ReadingKey]SensorReading, len(old.Readings)+1),
		Devices:  make(map[string]DeviceHandle, len(old.Devices)),
		Health:   old.Health,
	}
	for k, v := range old.Readings {
		next.Readings[k] = v
	}
	for k, v := range old.Devices {
		next.Devices[k] = v
	}
	return next
}

// publish stamps and swaps in the new snapshot. Callers hold s.mutex.
func (s *ReadingStore) publish(next *ReadingSnapshot) {
	s.gen++
	next.Gen = s.gen
	next.TakenAt = s.clock.Now()
	s.cur.Store(next)
}

func mergeReading(next *ReadingSnapshot, r SensorReading) {
	k := ReadingKey{DeviceID: r.DeviceID, Channel: r.Channel, Metric: r.Metric}
	if old, ok := next.Readings[k]; ok && r.CapturedAt.Before(old.CapturedAt) {
		// Late arrival from a reconnecting link; the newer capture stays.
		return
	}
	next.Readings[k] = r
}

// ApplyReading merges one reading into the set.
func (s *ReadingStore) ApplyReading(r SensorReading) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	next := s.beginUpdate()
	mergeReading(next, r)
	s.publish(next)
}

// ApplyReadings merges a batch in one snapshot swap. The application loop
// uses this for everything drained during a tick.
func (s *ReadingStore) ApplyReadings(rs []SensorReading) {
	if len(rs) == 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	next := s.beginUpdate()
	for _, r := range rs {
		mergeReading(next, r)
	}
	s.publish(next)
}

// ApplyDevice folds a hotplug event into the device table. Removal drops the
// handle but deliberately leaves the device's readings in place; they age out
// through the staleness threshold instead of vanishing mid frame.
func (s *ReadingStore) ApplyDevice(ev DeviceEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	next := s.beginUpdate()
	switch ev.Kind {
	case DeviceAdded, DeviceUpdated:
		next.Devices[ev.Device.ID] = ev.Device
	case DeviceRemoved:
		delete(next.Devices, ev.Device.ID)
	}
	s.publish(next)
}

// SetHealth mutates the health summary under the writer lock.
func (s *ReadingStore) SetHealth(mut func(*HealthFlags)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	next := s.beginUpdate()
	mut(&next.Health)
	s.publish(next)
}
