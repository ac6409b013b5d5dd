// esp_link_test.go - Tests for the ESP serial link worker

package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// fakeSerial scripts the device side of a link. Reads drain a buffer the
// test fills; an empty buffer behaves like a read deadline so the worker
// keeps polling.
type fakeSerial struct {
	mutex   sync.Mutex
	input   bytes.Buffer
	output  bytes.Buffer
	readErr error
	closed  bool
}

func (f *fakeSerial) Read(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return 0, errors.New("read on closed port")
	}
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return 0, err
	}
	if f.input.Len() == 0 {
		f.mutex.Unlock()
		time.Sleep(time.Millisecond)
		f.mutex.Lock()
		return 0, os.ErrDeadlineExceeded
	}
	return f.input.Read(p)
}

func (f *fakeSerial) Write(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return 0, errors.New("write on closed port")
	}
	return f.output.Write(p)
}

func (f *fakeSerial) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSerial) SetReadDeadline(time.Time) error { return nil }

func (f *fakeSerial) feed(line string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.input.WriteString(line + "\r\n")
}

func (f *fakeSerial) failNextRead(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.readErr = err
}

func (f *fakeSerial) written() string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.output.String()
}

// newTestLink wires an ESPLink to fakes with fast reconnect timing.
func newTestLink(open func(string, int) (SerialPort, error)) *ESPLink {
	e := NewESPLink("/dev/ttyTEST", 115200, nil, zap.NewNop())
	e.open = open
	e.reconnectBase = 5 * time.Millisecond
	e.reconnectMax = 20 * time.Millisecond
	return e
}

// waitStatus pulls statuses until one matches the wanted kind.
func waitStatus(t *testing.T, e *ESPLink, kind ESPStatusKind) ESPStatus {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-e.Status():
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for status kind %d", kind)
			return ESPStatus{}
		}
	}
}

// waitWritten polls the fake port until the wanted substring shows up.
func waitWritten(t *testing.T, f *fakeSerial, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(f.written(), want) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Expected %q to be written, got %q", want, f.written())
}

// TestESPLinkConnectAndReport covers the happy path from open through report
// line delivery.
func TestESPLinkConnectAndReport(t *testing.T) {
	port := &fakeSerial{}
	e := newTestLink(func(string, int) (SerialPort, error) { return port, nil })
	e.Start()
	defer e.Stop()

	waitStatus(t, e, ESPConnected)

	port.feed("$TS,0,T,2150*49")
	s := waitStatus(t, e, ESPLine)
	if s.Line != "$TS,0,T,2150*49" {
		t.Errorf("Expected report line, got %q", s.Line)
	}
	if s.Port != "/dev/ttyTEST" {
		t.Errorf("Expected port stamp, got %q", s.Port)
	}
}

// TestESPLinkCommands checks command formatting on the wire.
func TestESPLinkCommands(t *testing.T) {
	port := &fakeSerial{}
	e := newTestLink(func(string, int) (SerialPort, error) { return port, nil })
	e.Start()
	defer e.Stop()

	waitStatus(t, e, ESPConnected)

	if err := e.SetActive(true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if err := e.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	e.SetTarget(3, 27.4)

	waitWritten(t, port, "tempActive 1\n")
	waitWritten(t, port, "ping\n")
	waitWritten(t, port, "setTemp 3 27\n")
}

// TestESPLinkTargetCoalescing floods targets past the limiter burst and
// expects the newest value per channel to be the one that lands.
func TestESPLinkTargetCoalescing(t *testing.T) {
	port := &fakeSerial{}
	e := newTestLink(func(string, int) (SerialPort, error) { return port, nil })
	// Tiny refill so the test can watch the pending flush without waiting
	// out the production rate.
	e.limiter = rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
	e.Start()
	defer e.Stop()

	waitStatus(t, e, ESPConnected)

	for v := 10; v <= 30; v++ {
		e.SetTarget(5, float64(v))
	}
	waitWritten(t, port, "setTemp 5 ")

	// Whatever was flushed last must be the final value once the limiter
	// catches up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(port.written(), "setTemp 5 30\n") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(port.written(), "setTemp 5 30\n") {
		t.Fatalf("Expected final target 30 to be written, got %q", port.written())
	}
	// The flood must not have produced one write per request.
	writes := strings.Count(port.written(), "setTemp 5 ")
	if writes > 5 {
		t.Errorf("Expected coalesced writes, got %d", writes)
	}
}

// TestESPLinkReconnect drops the port mid-session and expects a disconnect
// status followed by a fresh connect.
func TestESPLinkReconnect(t *testing.T) {
	var mutex sync.Mutex
	opens := 0
	ports := []*fakeSerial{{}, {}}
	e := newTestLink(func(string, int) (SerialPort, error) {
		mutex.Lock()
		defer mutex.Unlock()
		if opens >= len(ports) {
			return ports[len(ports)-1], nil
		}
		p := ports[opens]
		opens++
		return p, nil
	})
	e.Start()
	defer e.Stop()

	waitStatus(t, e, ESPConnected)
	ports[0].failNextRead(errors.New("USB yanked"))

	s := waitStatus(t, e, ESPDisconnected)
	if s.Err == nil {
		t.Errorf("Expected disconnect reason, got nil")
	}
	waitStatus(t, e, ESPConnected)

	mutex.Lock()
	defer mutex.Unlock()
	if opens < 2 {
		t.Errorf("Expected a second open, got %d", opens)
	}
}

// TestESPLinkOpenFailureRetries starts against a dead device and expects a
// single disconnect announcement followed by a connect once the device
// appears.
func TestESPLinkOpenFailureRetries(t *testing.T) {
	var mutex sync.Mutex
	attempts := 0
	port := &fakeSerial{}
	e := newTestLink(func(string, int) (SerialPort, error) {
		mutex.Lock()
		defer mutex.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("no such device")
		}
		return port, nil
	})
	e.Start()
	defer e.Stop()

	waitStatus(t, e, ESPDisconnected)
	waitStatus(t, e, ESPConnected)

	mutex.Lock()
	defer mutex.Unlock()
	if attempts < 3 {
		t.Errorf("Expected at least 3 open attempts, got %d", attempts)
	}
}

// TestESPLinkStopIsPromptAndIdempotent stops twice and expects no hang.
func TestESPLinkStopIsPrompt(t *testing.T) {
	port := &fakeSerial{}
	e := newTestLink(func(string, int) (SerialPort, error) { return port, nil })
	e.Start()
	waitStatus(t, e, ESPConnected)

	start := time.Now()
	e.Stop()
	e.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected prompt stop, took %v", elapsed)
	}
}
