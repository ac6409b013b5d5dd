// overlay_renderer_test.go - Tests for frame composition and backend recovery

package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeDisplay is an in-memory DisplayOutput for renderer and loop tests.
type fakeDisplay struct {
	mutex       sync.Mutex
	cfg         DisplayConfig
	started     bool
	closed      bool
	frames      uint64
	failUpdates int // UpdateFrame fails while > 0
	queued      []WindowEvent
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{cfg: DisplayConfig{Width: 320, Height: 200, Scale: 1, RefreshRate: 30}}
}

func (d *fakeDisplay) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.started = true
	return nil
}

func (d *fakeDisplay) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.started = false
	return nil
}

func (d *fakeDisplay) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.closed = true
	d.started = false
	return nil
}

func (d *fakeDisplay) IsStarted() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.started
}

func (d *fakeDisplay) State() WindowState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed {
		return WindowDestroyed
	}
	if d.started {
		return WindowMapped
	}
	return WindowCreated
}

func (d *fakeDisplay) SetDisplayConfig(cfg DisplayConfig) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cfg = cfg
	return nil
}

func (d *fakeDisplay) GetDisplayConfig() DisplayConfig {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.cfg
}

func (d *fakeDisplay) UpdateFrame(buffer []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.failUpdates > 0 {
		d.failUpdates--
		return fmt.Errorf("simulated context loss")
	}
	d.frames++
	return nil
}

func (d *fakeDisplay) pushEvent(ev WindowEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.queued = append(d.queued, ev)
}

func (d *fakeDisplay) PollEvents() []WindowEvent {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := d.queued
	d.queued = nil
	return out
}

func (d *fakeDisplay) WaitForVSync() error { return nil }

func (d *fakeDisplay) GetFrameCount() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.frames
}

func (d *fakeDisplay) GetRefreshRate() int { return d.cfg.RefreshRate }

var rendererT0 = time.Date(2026, 2, 14, 20, 30, 0, 0, time.UTC)

func newTestRenderer(t *testing.T, create func() (DisplayOutput, error), clock Clock) *OverlayRenderer {
	t.Helper()
	r, err := NewOverlayRenderer(create, 2*time.Second, 45, NewEventLog(), clock, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOverlayRenderer failed: %v", err)
	}
	return r
}

// TestPanelStatesStalenessBoundary pins the render decision at the threshold:
// a reading at exactly the threshold age is fresh, one instant past is stale
// but still shows its last value.
func TestPanelStatesStalenessBoundary(t *testing.T) {
	clock := newFakeClock(rendererT0)
	store := NewReadingStore(clock)
	r := newTestRenderer(t, func() (DisplayOutput, error) { return newFakeDisplay(), nil }, clock)

	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 0, Metric: MetricTemperature,
		Raw: 3650, Seq: 1, CapturedAt: rendererT0})

	states := r.panelStates(store.Snapshot(), rendererT0.Add(2*time.Second))
	if !states[0].HasValue || states[0].Stale {
		t.Fatalf("Expected fresh value at exactly threshold age, got %+v", states[0])
	}
	if states[0].Value != 36.5 {
		t.Errorf("Expected value 36.5, got %v", states[0].Value)
	}

	states = r.panelStates(store.Snapshot(), rendererT0.Add(2*time.Second+time.Millisecond))
	if !states[0].Stale {
		t.Fatalf("Expected stale past threshold, got %+v", states[0])
	}
	if states[0].Value != 36.5 {
		t.Errorf("Expected stale panel to keep last value 36.5, got %v", states[0].Value)
	}
}

// TestPanelStatesHotAndTarget checks the over-limit flag and target pairing.
func TestPanelStatesHotAndTarget(t *testing.T) {
	clock := newFakeClock(rendererT0)
	store := NewReadingStore(clock)
	r := newTestRenderer(t, func() (DisplayOutput, error) { return newFakeDisplay(), nil }, clock)

	store.ApplyReadings([]SensorReading{
		{DeviceID: "ttyUSB0", Channel: 1, Metric: MetricTemperature, Raw: 4600, Seq: 1, CapturedAt: rendererT0},
		{DeviceID: "osc", Channel: 1, Metric: MetricTarget, Raw: 2500, Seq: 2, CapturedAt: rendererT0},
	})

	states := r.panelStates(store.Snapshot(), rendererT0)
	st := states[1]
	if !st.Hot {
		t.Errorf("Expected 46.0 to be flagged hot at limit 45, got %+v", st)
	}
	if !st.HasTgt || st.Target != 25 {
		t.Errorf("Expected target 25, got %+v", st)
	}
	if states[0].HasValue {
		t.Errorf("Expected channel 0 empty, got %+v", states[0])
	}
}

// TestPresentRecreatesBackend simulates one lost context: the failed present
// swaps in a fresh backend and the next frame lands on it.
func TestPresentRecreatesBackend(t *testing.T) {
	first := newFakeDisplay()
	first.failUpdates = 1
	second := newFakeDisplay()
	displays := []*fakeDisplay{first, second}
	created := 0
	create := func() (DisplayOutput, error) {
		d := displays[created]
		created++
		return d, nil
	}

	clock := newFakeClock(rendererT0)
	r := newTestRenderer(t, create, clock)
	store := NewReadingStore(clock)

	if err := r.Present(store.Snapshot()); err != nil {
		t.Fatalf("Expected recovered present to succeed: %v", err)
	}
	if !first.closed {
		t.Errorf("Expected failed backend to be closed")
	}
	if r.Output() != DisplayOutput(second) {
		t.Fatalf("Expected renderer to point at the replacement backend")
	}
	if err := r.Present(store.Snapshot()); err != nil {
		t.Fatalf("Present on replacement failed: %v", err)
	}
	if second.GetFrameCount() == 0 {
		t.Errorf("Expected frames on the replacement backend")
	}
}

// TestPresentGivesUpAfterRepeatedFailures drives two consecutive recreation
// failures and expects an unrecoverable RenderError.
func TestPresentGivesUpAfterRepeatedFailures(t *testing.T) {
	broken := newFakeDisplay()
	broken.failUpdates = 100
	created := 0
	create := func() (DisplayOutput, error) {
		created++
		if created == 1 {
			return broken, nil
		}
		return nil, fmt.Errorf("no display available")
	}

	clock := newFakeClock(rendererT0)
	r := newTestRenderer(t, create, clock)
	store := NewReadingStore(clock)

	if err := r.Present(store.Snapshot()); err != nil {
		t.Fatalf("Expected first failure to be retried silently: %v", err)
	}
	err := r.Present(store.Snapshot())
	if err == nil {
		t.Fatalf("Expected unrecoverable error after repeated failures")
	}
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected *RenderError, got %T: %v", err, err)
	}
}

// TestSnapshotText checks the clipboard rendering including the stale marker.
func TestSnapshotText(t *testing.T) {
	clock := newFakeClock(rendererT0)
	store := NewReadingStore(clock)
	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 0, Metric: MetricTemperature,
		Raw: 3650, Seq: 1, CapturedAt: rendererT0})

	text := SnapshotText(store.Snapshot(), rendererT0.Add(5*time.Second), 2*time.Second)
	if !strings.Contains(text, "CH1 36.50°C (stale)") {
		t.Errorf("Expected stale channel 1 line, got:\n%s", text)
	}
	if !strings.Contains(text, "CH2 --.-") {
		t.Errorf("Expected placeholder for empty channel 2, got:\n%s", text)
	}
}
