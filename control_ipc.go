// control_ipc.go - Unix domain socket control interface

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
	"net"
	"os"
	"path/filepath"
	"time"
)

const ipcMaxRequestSize = 4096

// ControlRequest is one command from tempsensectl or another local client.
type ControlRequest struct {
	Cmd     string  `json:"cmd"`
	Channel int     `json:"channel,omitempty"`
	Temp    float64 `json:"temp,omitempty"`
	On      bool    `json:"on,omitempty"`
	Lines   int     `json:"lines,omitempty"`
}

// ControlReading is one row of the status response.
type ControlReading struct {
	Channel int     `json:"channel"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Device  string  `json:"device"`
	AgeMS   int64   `json:"age_ms"`
	Stale   bool    `json:"stale"`
	Remote  bool    `json:"remote,omitempty"`
}

type ControlResponse struct {
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Readings []ControlReading `json:"readings,omitempty"`
	Log      []string         `json:"log,omitempty"`
}

// ControlHandler is what the engine exposes over the socket.
type ControlHandler interface {
	StatusReadings() []ControlReading
	SetTarget(channel int, temp float64) error
	SetActive(on bool) error
	LogTail(n int) []string
}

// ControlServer listens on a Unix socket and dispatches control requests.
// One engine instance per socket: a live peer on the socket blocks startup,
// a stale socket file is cleaned up and reclaimed.
type ControlServer struct {
	listener net.Listener
	handler  ControlHandler
	done     chan struct{}
	sockPath string
}

func resolveControlSocketPath(override string) string {
	if override != "" {
		return override
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tempsense.sock")
	}
	return "/tmp/tempsense.sock"
}

// NewControlServer creates and binds the control socket.
func NewControlServer(sockPath string, handler ControlHandler) (*ControlServer, error) {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		// Stale socket cleanup: try connecting. If peer is dead, remove and retry.
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("control socket bind failed: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("another instance is already running")
		}
	}
	return &ControlServer{listener: ln, handler: handler, done: make(chan struct{}), sockPath: sockPath}, nil
}

// Start begins accepting connections in a goroutine.
func (s *ControlServer) Start() {
	go s.acceptLoop()
}

// Stop closes the listener, waits for the accept loop and removes the socket.
func (s *ControlServer) Stop() {
	s.listener.Close()
	<-s.done
	os.Remove(s.sockPath)
}

func (s *ControlServer) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *ControlServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	var req ControlRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, ControlResponse{Status: "err", Message: "invalid json"})
		return
	}
	s.writeResponse(conn, s.dispatch(req))
}

func (s *ControlServer) dispatch(req ControlRequest) ControlResponse {
	switch req.Cmd {
	case "ping":
		return ControlResponse{Status: "ok", Message: "pong"}

	case "status":
		return ControlResponse{Status: "ok", Readings: s.handler.StatusReadings()}

	case "set-target":
		if req.Channel < 0 || req.Channel >= NumChannels {
			return ControlResponse{Status: "err",
				Message: fmt.Sprintf("channel %d out of range 0..%d", req.Channel, NumChannels-1)}
		}
		if err := s.handler.SetTarget(req.Channel, req.Temp); err != nil {
			return ControlResponse{Status: "err", Message: err.Error()}
		}
		return ControlResponse{Status: "ok"}

	case "active":
		if err := s.handler.SetActive(req.On); err != nil {
			return ControlResponse{Status: "err", Message: err.Error()}
		}
		return ControlResponse{Status: "ok"}

	case "log":
		n := req.Lines
		if n <= 0 || n > eventLogDepth {
			n = 20
		}
		return ControlResponse{Status: "ok", Log: s.handler.LogTail(n)}
	}
	return ControlResponse{Status: "err", Message: "unknown command"}
}

func (s *ControlServer) writeResponse(conn net.Conn, resp ControlResponse) {
	data, _ := json.Marshal(resp)
	conn.Write(data)
}

// SendControlRequest connects to a running instance and performs one request.
// Used by tempsensectl and by tests.
func SendControlRequest(sockPath string, req ControlRequest) (ControlResponse, error) {
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return ControlResponse{}, fmt.Errorf("cannot connect to running instance: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		return ControlResponse{}, fmt.Errorf("send failed: %w", err)
	}

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil {
		return ControlResponse{}, fmt.Errorf("read response failed: %w", err)
	}
	var resp ControlResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return ControlResponse{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("remote error: %s", resp.Message)
	}
	return resp, nil
}
