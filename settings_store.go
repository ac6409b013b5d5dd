// settings_store.go - Persisted user settings

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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings are the user tweakable bits that survive restarts: window
// placement, the master active switch, the last OSC listen address and any
// manually set per-channel targets. Distinct from Config, which is operator
// supplied and read only.
type Settings struct {
	WindowWidth  int                  `json:"window_width"`
	WindowHeight int                  `json:"window_height"`
	Fullscreen   bool                 `json:"fullscreen"`
	Active       bool                 `json:"active"`
	OSCAddr      string               `json:"osc_addr"`
	Targets      [NumChannels]float64 `json:"targets"`
}

func DefaultSettings() Settings {
	return Settings{
		WindowWidth:  800,
		WindowHeight: 480,
	}
}

// settingsPath resolves the persisted settings location, preferring
// XDG_CONFIG_HOME and falling back to ~/.config.
func settingsPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("no config directory available: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tempsense", "settings.json"), nil
}

// LoadSettings reads the persisted settings. A missing or unreadable file is
// not an error; defaults win so a corrupt file can never stop startup.
func LoadSettings() Settings {
	s := DefaultSettings()
	path, err := settingsPath()
	if err != nil {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings()
	}
	if s.WindowWidth < 320 || s.WindowHeight < 200 {
		s.WindowWidth = DefaultSettings().WindowWidth
		s.WindowHeight = DefaultSettings().WindowHeight
	}
	return s
}

// SaveSettings writes atomically via a temp file so a crash mid-write leaves
// the previous settings intact.
func SaveSettings(s Settings) error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
