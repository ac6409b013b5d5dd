// settings_store_test.go - Tests for persisted settings

package main

import (
	"os"
	"path/filepath"
	"testing"
)

// TestSettingsRoundTrip saves settings into an isolated XDG_CONFIG_HOME and
// loads them back.
func TestSettingsRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s := DefaultSettings()
	s.WindowWidth = 1024
	s.WindowHeight = 600
	s.Active = true
	s.Targets[3] = 27.5

	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got := LoadSettings()
	if got.WindowWidth != 1024 || got.WindowHeight != 600 {
		t.Errorf("Expected 1024x600, got %dx%d", got.WindowWidth, got.WindowHeight)
	}
	if !got.Active {
		t.Errorf("Expected active flag to survive")
	}
	if got.Targets[3] != 27.5 {
		t.Errorf("Expected target 27.5 on channel 3, got %v", got.Targets[3])
	}
}

// TestLoadSettingsMissingFile falls back to defaults without error.
func TestLoadSettingsMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	got := LoadSettings()
	def := DefaultSettings()
	if got != def {
		t.Errorf("Expected defaults for missing file, got %+v", got)
	}
}

// TestLoadSettingsCorruptFile falls back to defaults when the JSON is broken.
func TestLoadSettingsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "tempsense", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got := LoadSettings()
	if got != DefaultSettings() {
		t.Errorf("Expected defaults for corrupt file, got %+v", got)
	}
}

// TestLoadSettingsRejectsTinyWindow clamps absurd persisted geometry back to
// defaults.
func TestLoadSettingsRejectsTinyWindow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s := DefaultSettings()
	s.WindowWidth = 10
	s.WindowHeight = 10
	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got := LoadSettings()
	if got.WindowWidth != DefaultSettings().WindowWidth {
		t.Errorf("Expected default width restored, got %d", got.WindowWidth)
	}
}

// TestSaveSettingsLeavesNoTempFile checks the atomic rename cleans up.
func TestSaveSettingsLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := SaveSettings(DefaultSettings()); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "tempsense"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "settings.json" {
			t.Errorf("Unexpected file %q left behind", e.Name())
		}
	}
}
