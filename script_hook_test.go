// script_hook_test.go - Tests for the Lua automation callbacks

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.lua")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func scriptReading(value float64) SensorReading {
	return SensorReading{
		DeviceID:   "ttyUSB0",
		Channel:    0,
		Metric:     MetricTemperature,
		Raw:        rawForValue(value),
		Seq:        1,
		CapturedAt: time.Date(2026, 2, 14, 20, 30, 0, 0, time.UTC),
	}
}

// TestScriptHookPassthrough leaves readings untouched when on_reading returns
// nothing.
func TestScriptHookPassthrough(t *testing.T) {
	path := writeScript(t, `function on_reading(device, metric, value) end`)
	h, err := NewScriptHook(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScriptHook failed: %v", err)
	}
	defer h.Close()

	r, keep := h.OnReading(scriptReading(36.5))
	if !keep {
		t.Fatalf("Expected reading kept")
	}
	if r.Value() != 36.5 {
		t.Errorf("Expected value unchanged at 36.5, got %v", r.Value())
	}
}

// TestScriptHookVeto drops readings the script returns false for.
func TestScriptHookVeto(t *testing.T) {
	path := writeScript(t, `
function on_reading(device, metric, value)
	if value > 40 then return false end
end`)
	h, err := NewScriptHook(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScriptHook failed: %v", err)
	}
	defer h.Close()

	if _, keep := h.OnReading(scriptReading(46)); keep {
		t.Errorf("Expected hot reading vetoed")
	}
	if _, keep := h.OnReading(scriptReading(21)); !keep {
		t.Errorf("Expected normal reading kept")
	}
}

// TestScriptHookRewrite lets the script replace the value.
func TestScriptHookRewrite(t *testing.T) {
	path := writeScript(t, `
function on_reading(device, metric, value)
	return value + 0.5
end`)
	h, err := NewScriptHook(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScriptHook failed: %v", err)
	}
	defer h.Close()

	r, keep := h.OnReading(scriptReading(20))
	if !keep {
		t.Fatalf("Expected rewritten reading kept")
	}
	if r.Value() != 20.5 {
		t.Errorf("Expected rewritten value 20.5, got %v", r.Value())
	}
}

// TestScriptHookOnAlert checks alert parameters reach the script.
func TestScriptHookOnAlert(t *testing.T) {
	path := writeScript(t, `
alerts = 0
function on_alert(device, value, limit)
	alerts = alerts + 1
	last_device = device
end`)
	h, err := NewScriptHook(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScriptHook failed: %v", err)
	}
	defer h.Close()

	h.OnAlert("ttyUSB0", 46, 45)
	h.OnAlert("ttyUSB0", 47, 45)

	if got := h.state.GetGlobal("alerts").String(); got != "2" {
		t.Errorf("Expected 2 alerts recorded, got %s", got)
	}
	if got := h.state.GetGlobal("last_device").String(); got != "ttyUSB0" {
		t.Errorf("Expected last_device ttyUSB0, got %s", got)
	}
}

// TestScriptHookErrorDisables expects a runtime error to disable the hook
// without dropping the reading that tripped it.
func TestScriptHookErrorDisables(t *testing.T) {
	path := writeScript(t, `
function on_reading(device, metric, value)
	error("boom")
end`)
	h, err := NewScriptHook(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScriptHook failed: %v", err)
	}
	defer h.Close()

	r, keep := h.OnReading(scriptReading(36.5))
	if !keep || r.Value() != 36.5 {
		t.Fatalf("Expected erroring hook to keep the reading unchanged")
	}
	if !h.disabled {
		t.Errorf("Expected hook disabled after script error")
	}
	if _, keep := h.OnReading(scriptReading(50)); !keep {
		t.Errorf("Expected disabled hook to pass everything through")
	}
}

// TestScriptHookNilReceiver makes the optional hook safe to call unset.
func TestScriptHookNilReceiver(t *testing.T) {
	var h *ScriptHook
	r, keep := h.OnReading(scriptReading(36.5))
	if !keep || r.Value() != 36.5 {
		t.Errorf("Expected nil hook to pass readings through")
	}
	h.OnAlert("ttyUSB0", 46, 45)
	h.Close()
}

// TestScriptHookBadFile rejects an unloadable script at startup.
func TestScriptHookBadFile(t *testing.T) {
	path := writeScript(t, `this is not lua (`)
	if _, err := NewScriptHook(path, zap.NewNop()); err == nil {
		t.Fatalf("Expected load error for broken script")
	}
	if _, err := NewScriptHook(filepath.Join(t.TempDir(), "missing.lua"), zap.NewNop()); err == nil {
		t.Fatalf("Expected load error for missing script")
	}
}
