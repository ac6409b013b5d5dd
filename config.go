// config.go - Engine configuration from defaults, YAML file and flags

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
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can say "500ms" or "2s".
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }
func (d Duration) String() string          { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like 500ms: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// LinkConfig configures the TLS mirror link to a partner instance. An empty
// address disables the link entirely.
type LinkConfig struct {
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Token    string `yaml:"token"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure"`
}

// Config is the full engine configuration. Precedence is flags over file
// values over defaults.
type Config struct {
	Display   string `yaml:"display"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FrameRate int    `yaml:"frame_rate"`

	OSCListen    string   `yaml:"osc_listen"`
	SerialPorts  []string `yaml:"serial_ports"`
	BaudRate     int      `yaml:"baud_rate"`
	ScanInterval Duration `yaml:"scan_interval"`

	StaleAfter Duration `yaml:"stale_after"`
	TempMin    float64  `yaml:"temp_min"`
	TempMax    float64  `yaml:"temp_max"`
	AlertLimit float64  `yaml:"alert_limit"`
	Silent     bool     `yaml:"silent"`

	Link LinkConfig `yaml:"link"`

	MetricsListen string `yaml:"metrics_listen"`
	IPCSocket     string `yaml:"ipc_socket"`
	Script        string `yaml:"script"`
	Debug         bool   `yaml:"debug"`

	ShowVersion bool `yaml:"-"`
}

var supportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400}

func DefaultConfig() Config {
	return Config{
		Display:      "auto",
		Width:        800,
		Height:       480,
		FrameRate:    30,
		OSCListen:    "127.0.0.1:9000",
		SerialPorts:  []string{"/dev/ttyUSB0"},
		BaudRate:     115200,
		ScanInterval: Duration(500 * time.Millisecond),
		StaleAfter:   Duration(2 * time.Second),
		TempMin:      -10,
		TempMax:      40,
		AlertLimit:   45,
	}
}

// MergeFile overlays YAML file values onto the receiver. Keys absent from the
// file keep their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.mergeYAML(data, path)
}

func (c *Config) mergeYAML(data []byte, src string) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", src, err)
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := displayBackendByName(c.Display); err != nil {
		return err
	}
	if c.Width < 320 || c.Height < 200 {
		return fmt.Errorf("window %dx%d below minimum 320x200", c.Width, c.Height)
	}
	if c.FrameRate < 1 || c.FrameRate > 240 {
		return fmt.Errorf("frame rate %d outside 1..240", c.FrameRate)
	}
	okBaud := false
	for _, b := range supportedBaudRates {
		if b == c.BaudRate {
			okBaud = true
			break
		}
	}
	if !okBaud {
		return fmt.Errorf("baud rate %d not supported (use one of %v)", c.BaudRate, supportedBaudRates)
	}
	if c.ScanInterval.Duration() < 50*time.Millisecond {
		return fmt.Errorf("scan interval %s below 50ms floor", c.ScanInterval)
	}
	if c.StaleAfter.Duration() <= 0 {
		return fmt.Errorf("stale threshold must be positive, got %s", c.StaleAfter)
	}
	if c.TempMin >= c.TempMax {
		return fmt.Errorf("temperature range %v..%v is empty", c.TempMin, c.TempMax)
	}
	if c.Link.Address != "" && c.Link.Name == "" {
		return fmt.Errorf("link.name is required when link.address is set")
	}
	return nil
}

// ClampTarget folds a requested target temperature into the configured range.
func (c *Config) ClampTarget(v float64) float64 {
	if v < c.TempMin {
		return c.TempMin
	}
	if v > c.TempMax {
		return c.TempMax
	}
	return v
}

// preScanConfigPath finds -config before the real flag parse so file values
// can become flag defaults.
func preScanConfigPath(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// ParseArgs resolves the engine configuration from defaults, an optional YAML
// file and command line flags, in ascending precedence.
func ParseArgs(args []string) (Config, error) {
	cfg := DefaultConfig()
	if path := preScanConfigPath(args); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return cfg, err
		}
	}

	fs := flag.NewFlagSet("tempsense", flag.ContinueOnError)
	fs.String("config", "", "Path to YAML configuration file")
	fs.StringVar(&cfg.Display, "display", cfg.Display, "Display backend: auto, ebiten or term")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Window width in pixels")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Window height in pixels")
	fs.IntVar(&cfg.FrameRate, "fps", cfg.FrameRate, "Render loop frequency in Hz")
	fs.StringVar(&cfg.OSCListen, "osc-listen", cfg.OSCListen, "UDP address for VRChat OSC input")
	ports := fs.String("ports", strings.Join(cfg.SerialPorts, ","), "Comma separated serial ports to try")
	fs.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "Serial baud rate")
	scan := fs.Duration("scan-interval", cfg.ScanInterval.Duration(), "Device rescan interval")
	stale := fs.Duration("stale-after", cfg.StaleAfter.Duration(), "Age after which a reading renders as stale")
	fs.Float64Var(&cfg.TempMin, "temp-min", cfg.TempMin, "Lowest accepted target temperature")
	fs.Float64Var(&cfg.TempMax, "temp-max", cfg.TempMax, "Highest accepted target temperature")
	fs.Float64Var(&cfg.AlertLimit, "alert-limit", cfg.AlertLimit, "Over-temperature alert threshold")
	fs.BoolVar(&cfg.Silent, "silent", cfg.Silent, "Disable the alert tone")
	fs.StringVar(&cfg.Link.Address, "link", cfg.Link.Address, "Partner instance address host:port (empty disables)")
	fs.StringVar(&cfg.Link.Name, "link-name", cfg.Link.Name, "Identity announced to the partner")
	fs.StringVar(&cfg.Link.Token, "link-token", cfg.Link.Token, "Shared token for the partner hello")
	fs.StringVar(&cfg.Link.CAFile, "link-ca", cfg.Link.CAFile, "CA bundle used to verify the partner")
	fs.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "Prometheus listen address (empty disables)")
	fs.StringVar(&cfg.IPCSocket, "ipc-socket", cfg.IPCSocket, "Control socket path override")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "Lua automation script")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.SerialPorts = splitPorts(*ports)
	cfg.ScanInterval = Duration(*scan)
	cfg.StaleAfter = Duration(*stale)

	if cfg.ShowVersion {
		return cfg, nil
	}
	return cfg, cfg.Validate()
}

func splitPorts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
