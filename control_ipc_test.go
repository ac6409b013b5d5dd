// control_ipc_test.go - Tests for the Unix socket control interface

package main

import (
	"path/filepath"
	"strings"
	"testing"
)

// stubHandler records control calls and serves canned data.
type stubHandler struct {
	readings   []ControlReading
	logLines   []string
	lastTarget struct {
		channel int
		temp    float64
	}
	lastActive bool
	targetErr  error
}

func (h *stubHandler) StatusReadings() []ControlReading { return h.readings }

func (h *stubHandler) SetTarget(channel int, temp float64) error {
	h.lastTarget.channel = channel
	h.lastTarget.temp = temp
	return h.targetErr
}

func (h *stubHandler) SetActive(on bool) error {
	h.lastActive = on
	return nil
}

func (h *stubHandler) LogTail(n int) []string {
	if n > len(h.logLines) {
		n = len(h.logLines)
	}
	return h.logLines[len(h.logLines)-n:]
}

func startTestControl(t *testing.T, handler ControlHandler) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ts.sock")
	srv, err := NewControlServer(sock, handler)
	if err != nil {
		t.Fatalf("NewControlServer failed: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Stop)
	return sock
}

// TestControlPing round trips the liveness command.
func TestControlPing(t *testing.T) {
	sock := startTestControl(t, &stubHandler{})

	resp, err := SendControlRequest(sock, ControlRequest{Cmd: "ping"})
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if resp.Message != "pong" {
		t.Errorf("Expected pong, got %q", resp.Message)
	}
}

// TestControlStatus returns the handler's readings verbatim.
func TestControlStatus(t *testing.T) {
	handler := &stubHandler{readings: []ControlReading{
		{Channel: 0, Metric: "temp", Value: 36.5, Unit: "°C", Device: "ttyUSB0", AgeMS: 120},
		{Channel: 2, Metric: "temp", Value: 21.0, Unit: "°C", Device: "partner", Stale: true, Remote: true},
	}}
	sock := startTestControl(t, handler)

	resp, err := SendControlRequest(sock, ControlRequest{Cmd: "status"})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if len(resp.Readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(resp.Readings))
	}
	if resp.Readings[0].Value != 36.5 {
		t.Errorf("Expected value 36.5, got %v", resp.Readings[0].Value)
	}
	if !resp.Readings[1].Stale || !resp.Readings[1].Remote {
		t.Errorf("Expected stale remote reading, got %+v", resp.Readings[1])
	}
}

// TestControlSetTarget dispatches to the handler and validates the channel
// range at the socket boundary.
func TestControlSetTarget(t *testing.T) {
	handler := &stubHandler{}
	sock := startTestControl(t, handler)

	if _, err := SendControlRequest(sock, ControlRequest{Cmd: "set-target", Channel: 3, Temp: 24.5}); err != nil {
		t.Fatalf("set-target failed: %v", err)
	}
	if handler.lastTarget.channel != 3 || handler.lastTarget.temp != 24.5 {
		t.Errorf("Expected target 24.5 on channel 3, got %+v", handler.lastTarget)
	}

	_, err := SendControlRequest(sock, ControlRequest{Cmd: "set-target", Channel: NumChannels, Temp: 24.5})
	if err == nil {
		t.Fatalf("Expected out of range channel to be rejected")
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Expected range error, got %v", err)
	}
}

// TestControlActiveAndLog covers the remaining commands.
func TestControlActiveAndLog(t *testing.T) {
	handler := &stubHandler{logLines: []string{"a", "b", "c"}}
	sock := startTestControl(t, handler)

	if _, err := SendControlRequest(sock, ControlRequest{Cmd: "active", On: true}); err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if !handler.lastActive {
		t.Errorf("Expected active true to reach the handler")
	}

	resp, err := SendControlRequest(sock, ControlRequest{Cmd: "log", Lines: 2})
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if len(resp.Log) != 2 || resp.Log[1] != "c" {
		t.Errorf("Expected last 2 log lines ending in c, got %v", resp.Log)
	}
}

// TestControlUnknownCommand is rejected with an error status.
func TestControlUnknownCommand(t *testing.T) {
	sock := startTestControl(t, &stubHandler{})

	_, err := SendControlRequest(sock, ControlRequest{Cmd: "reboot"})
	if err == nil {
		t.Fatalf("Expected unknown command to fail")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Expected unknown command error, got %v", err)
	}
}

// TestControlSingleInstance refuses a second server on a live socket.
func TestControlSingleInstance(t *testing.T) {
	sock := startTestControl(t, &stubHandler{})

	if _, err := NewControlServer(sock, &stubHandler{}); err == nil {
		t.Fatalf("Expected second instance on a live socket to be refused")
	}
}
