// reading_store_test.go - Tests for the merged reading set

package main

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a hand-advanced clock for deterministic staleness tests.
type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

var storeT0 = time.Date(2026, 2, 14, 20, 30, 0, 0, time.UTC)

// TestStoreApplyAndSnapshot checks basic merge behaviour and that snapshots
// are published atomically with increasing generations.
func TestStoreApplyAndSnapshot(t *testing.T) {
	clock := newFakeClock(storeT0)
	store := NewReadingStore(clock)

	r := SensorReading{DeviceID: "ttyUSB0", Channel: 0, Metric: MetricTemperature, Raw: 3650, Seq: 1, CapturedAt: storeT0}
	store.ApplyReading(r)

	snap := store.Snapshot()
	got, ok := snap.ChannelReading(0, MetricTemperature)
	if !ok {
		t.Fatalf("Expected a reading for channel 0, got none")
	}
	if got.Value() != 36.5 {
		t.Errorf("Expected value 36.5, got %v", got.Value())
	}
	if snap.Gen == 0 {
		t.Errorf("Expected nonzero generation after publish")
	}

	// A later write must not show up in the already-loaded snapshot.
	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 0, Metric: MetricTemperature, Raw: 9999, Seq: 2, CapturedAt: storeT0.Add(time.Second)})
	if got, _ := snap.ChannelReading(0, MetricTemperature); got.Raw != 3650 {
		t.Errorf("Expected loaded snapshot to stay at 3650, got %d", got.Raw)
	}
	if got, _ := store.Snapshot().ChannelReading(0, MetricTemperature); got.Raw != 9999 {
		t.Errorf("Expected new snapshot at 9999, got %d", got.Raw)
	}
}

// TestStoreLateArrivalIgnored verifies an older capture cannot overwrite a
// newer one for the same slot.
func TestStoreLateArrivalIgnored(t *testing.T) {
	store := NewReadingStore(newFakeClock(storeT0))

	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 2, Metric: MetricTemperature, Raw: 2000, Seq: 5, CapturedAt: storeT0.Add(time.Second)})
	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 2, Metric: MetricTemperature, Raw: 1000, Seq: 4, CapturedAt: storeT0})

	got, _ := store.Snapshot().ChannelReading(2, MetricTemperature)
	if got.Raw != 2000 {
		t.Errorf("Expected late arrival to be ignored, got raw %d", got.Raw)
	}
}

// TestStoreChannelReadingPicksFreshest merges readings from two devices on
// the same channel and expects the later capture to win.
func TestStoreChannelReadingPicksFreshest(t *testing.T) {
	store := NewReadingStore(newFakeClock(storeT0))

	store.ApplyReadings([]SensorReading{
		{DeviceID: "ttyUSB0", Channel: 1, Metric: MetricTemperature, Raw: 2100, Seq: 1, CapturedAt: storeT0},
		{DeviceID: "partner", Channel: 1, Metric: MetricTemperature, Raw: 2200, Seq: 1, CapturedAt: storeT0.Add(time.Millisecond), Remote: true},
	})

	got, ok := store.Snapshot().ChannelReading(1, MetricTemperature)
	if !ok {
		t.Fatalf("Expected a reading for channel 1, got none")
	}
	if got.DeviceID != "partner" {
		t.Errorf("Expected freshest reading from partner, got %q", got.DeviceID)
	}
}

// TestStoreDeviceRemovalKeepsReadings removes a device and expects its handle
// to disappear while readings captured before removal survive.
func TestStoreDeviceRemovalKeepsReadings(t *testing.T) {
	clock := newFakeClock(storeT0)
	store := NewReadingStore(clock)

	dev := DeviceHandle{ID: "ttyUSB0", Path: "/dev/ttyUSB0", Caps: CAP_TEMPERATURE, State: DeviceConnected}
	store.ApplyDevice(DeviceEvent{Kind: DeviceAdded, Device: dev, At: storeT0})
	store.ApplyReading(SensorReading{DeviceID: "ttyUSB0", Channel: 0, Metric: MetricTemperature, Raw: 3650, Seq: 1, CapturedAt: storeT0})

	if _, ok := store.Snapshot().Devices["ttyUSB0"]; !ok {
		t.Fatalf("Expected device present after add")
	}

	store.ApplyDevice(DeviceEvent{Kind: DeviceRemoved, Device: dev, At: storeT0.Add(time.Second)})

	snap := store.Snapshot()
	if _, ok := snap.Devices["ttyUSB0"]; ok {
		t.Errorf("Expected device gone after removal")
	}
	got, ok := snap.ChannelReading(0, MetricTemperature)
	if !ok {
		t.Fatalf("Expected reading to survive device removal")
	}
	if got.Raw != 3650 {
		t.Errorf("Expected surviving reading raw 3650, got %d", got.Raw)
	}
}

// TestStoreHealthUpdate checks health flags publish like any other write.
func TestStoreHealthUpdate(t *testing.T) {
	store := NewReadingStore(newFakeClock(storeT0))

	store.SetHealth(func(h *HealthFlags) {
		h.MonitorOK = true
		h.SerialActive = 2
	})

	h := store.Snapshot().Health
	if !h.MonitorOK {
		t.Errorf("Expected MonitorOK true")
	}
	if h.SerialActive != 2 {
		t.Errorf("Expected 2 active serial links, got %d", h.SerialActive)
	}
}

// TestStoreConcurrentReaders hammers the store from writer and reader
// goroutines; the race detector proves the pointer swap is sound.
func TestStoreConcurrentReaders(t *testing.T) {
	store := NewReadingStore(newFakeClock(storeT0))
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			store.ApplyReading(SensorReading{
				DeviceID: "ttyUSB0", Channel: i % NumChannels, Metric: MetricTemperature,
				Raw: int32(i), Seq: uint64(i), CapturedAt: storeT0.Add(time.Duration(i)),
			})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				snap := store.Snapshot()
				for ch := 0; ch < NumChannels; ch++ {
					snap.ChannelReading(ch, MetricTemperature)
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(done)
	wg.Wait()
}
