// main.go - Command line control client for a running TempSense instance

/*
(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

const maxResponseSize = 65536

type request struct {
	Cmd     string  `json:"cmd"`
	Channel int     `json:"channel,omitempty"`
	Temp    float64 `json:"temp,omitempty"`
	On      bool    `json:"on,omitempty"`
	Lines   int     `json:"lines,omitempty"`
}

type reading struct {
	Channel int     `json:"channel"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Device  string  `json:"device"`
	AgeMS   int64   `json:"age_ms"`
	Stale   bool    `json:"stale"`
	Remote  bool    `json:"remote,omitempty"`
}

type response struct {
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	Readings []reading `json:"readings,omitempty"`
	Log      []string  `json:"log,omitempty"`
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tempsense.sock")
	}
	return "/tmp/tempsense.sock"
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tempsensectl [options] <command>

Commands:
  status                       Show current readings
  set-target -channel N -temp T  Set a channel target temperature
  active [-on|-off]            Switch thermal output on or off
  ping                         Check the engine is alive
  log [-lines N]               Show recent engine log entries

Options:
`)
	flag.PrintDefaults()
}

func main() {
	sock := flag.String("socket", defaultSocketPath(), "Control socket path")
	channel := flag.Int("channel", 0, "Channel for set-target")
	temp := flag.Float64("temp", 0, "Target temperature for set-target")
	on := flag.Bool("on", false, "Switch output on (active command)")
	off := flag.Bool("off", false, "Switch output off (active command)")
	lines := flag.Int("lines", 20, "Number of log lines to fetch")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	var req request
	switch flag.Arg(0) {
	case "status":
		req = request{Cmd: "status"}
	case "set-target":
		req = request{Cmd: "set-target", Channel: *channel, Temp: *temp}
	case "active":
		if *on == *off {
			fmt.Fprintln(os.Stderr, "error: active needs exactly one of -on or -off")
			os.Exit(1)
		}
		req = request{Cmd: "active", On: *on}
	case "ping":
		req = request{Cmd: "ping"}
	case "log":
		req = request{Cmd: "log", Lines: *lines}
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}

	resp, err := send(*sock, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printResponse(flag.Arg(0), resp)
}

func send(sockPath string, req request) (response, error) {
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return response{}, fmt.Errorf("cannot connect to running instance at %s: %w", sockPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		return response{}, fmt.Errorf("send failed: %w", err)
	}

	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return response{}, fmt.Errorf("read response failed: %w", err)
	}
	var resp response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return response{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("%s", resp.Message)
	}
	return resp, nil
}

func printResponse(cmd string, resp response) {
	switch cmd {
	case "status":
		if len(resp.Readings) == 0 {
			fmt.Println("no readings")
			return
		}
		fmt.Printf("%-4s %-6s %8s %-4s %-12s %8s %s\n",
			"CH", "METRIC", "VALUE", "UNIT", "DEVICE", "AGE", "FLAGS")
		for _, r := range resp.Readings {
			flags := ""
			if r.Stale {
				flags += "STALE "
			}
			if r.Remote {
				flags += "REMOTE"
			}
			fmt.Printf("%-4d %-6s %8.2f %-4s %-12s %6dms %s\n",
				r.Channel, r.Metric, r.Value, r.Unit, r.Device, r.AgeMS, flags)
		}
	case "ping":
		fmt.Println(resp.Message)
	case "log":
		for _, line := range resp.Log {
			fmt.Println(line)
		}
	default:
		fmt.Println("ok")
	}
}
