// esp_link.go - Serial link worker for ESP32 Peltier controllers

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
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SerialPort is the surface the link worker drives. The real implementation
// is an *os.File configured by OpenSerialPort; tests substitute an in-memory
// fake.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Outgoing firmware commands, one per line:
//
//	setTemp <channel> <degrees>
//	tempActive 1|0
//	ping
//
// The firmware answers with $TS report lines and free-form chatter, both of
// which surface as ESPLine statuses for the application loop to sort out.

// ESPStatusKind enumerates worker to application notifications.
type ESPStatusKind int

const (
	ESPConnected ESPStatusKind = iota
	ESPDisconnected
	ESPLine
)

// ESPStatus is one event from a link worker.
type ESPStatus struct {
	Kind ESPStatusKind
	Port string
	Line string // Set for ESPLine
	Err  error  // Set for ESPDisconnected
	At   time.Time
}

const (
	espCommandDepth = 32
	espStatusDepth  = 256
	espPollInterval = 20 * time.Millisecond
)

// ESPLink owns one serial connection. It reconnects on its own after port
// errors and rate limits setTemp so a chatty OSC sender cannot saturate the
// UART; the newest target per channel always wins.
type ESPLink struct {
	path  string
	baud  int
	open  func(string, int) (SerialPort, error)
	clock Clock
	log   *zap.Logger

	limiter       *rate.Limiter
	reconnectBase time.Duration
	reconnectMax  time.Duration

	cmds   chan string
	status chan ESPStatus

	pendMutex sync.Mutex
	pending   map[int]int // Channel to whole degrees awaiting a limiter slot

	mutex   sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewESPLink(path string, baud int, clock Clock, log *zap.Logger) *ESPLink {
	if clock == nil {
		clock = SystemClock
	}
	return &ESPLink{
		path:          path,
		baud:          baud,
		open:          OpenSerialPort,
		clock:         clock,
		log:           log.Named("esp").With(zap.String("port", path)),
		limiter:       rate.NewLimiter(rate.Limit(2), 4),
		reconnectBase: 2 * time.Second,
		reconnectMax:  10 * time.Second,
		cmds:          make(chan string, espCommandDepth),
		status:        make(chan ESPStatus, espStatusDepth),
		pending:       map[int]int{},
	}
}

// Start launches the connect and serve loop.
func (e *ESPLink) Start() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.done = make(chan struct{})
	e.wg.Add(1)
	go e.run()
}

// Stop tears the worker down. The port closes inside the serve loop, so a
// pending read unblocks within one poll interval.
func (e *ESPLink) Stop() {
	e.mutex.Lock()
	if !e.started {
		e.mutex.Unlock()
		return
	}
	e.started = false
	close(e.done)
	e.mutex.Unlock()

	e.wg.Wait()
}

// Status returns the bounded event stream for this link.
func (e *ESPLink) Status() <-chan ESPStatus {
	return e.status
}

// Port returns the device path this link drives.
func (e *ESPLink) Port() string {
	return e.path
}

// SetTarget requests a target temperature on one channel. The firmware takes
// whole degrees; the newest request per channel survives rate limiting.
func (e *ESPLink) SetTarget(channel int, degrees float64) {
	if channel < 0 || channel >= NumChannels {
		return
	}
	e.pendMutex.Lock()
	e.pending[channel] = int(math.Round(degrees))
	e.pendMutex.Unlock()
}

// SetActive toggles the master output switch.
func (e *ESPLink) SetActive(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return e.enqueue("tempActive " + v)
}

// Ping asks the firmware for a liveness reply.
func (e *ESPLink) Ping() error {
	return e.enqueue("ping")
}

func (e *ESPLink) enqueue(cmd string) error {
	select {
	case e.cmds <- cmd:
		return nil
	default:
		metricQueueDrops.WithLabelValues("esp_cmd").Inc()
		return fmt.Errorf("command queue full on %s", e.path)
	}
}

func (e *ESPLink) emit(s ESPStatus) {
	s.Port = e.path
	s.At = e.clock.Now()
	select {
	case e.status <- s:
	default:
		metricQueueDrops.WithLabelValues("esp_status").Inc()
	}
}

func (e *ESPLink) run() {
	defer e.wg.Done()
	attempt := 0
	announcedDown := false

	for {
		select {
		case <-e.done:
			return
		default:
		}

		port, err := e.open(e.path, e.baud)
		if err != nil {
			if !announcedDown {
				e.emit(ESPStatus{Kind: ESPDisconnected, Err: err})
				e.log.Warn("open failed", zap.Error(err))
				announcedDown = true
			}
			attempt++
			delay := time.Duration(attempt) * e.reconnectBase
			if delay > e.reconnectMax {
				delay = e.reconnectMax
			}
			select {
			case <-e.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		announcedDown = false
		e.emit(ESPStatus{Kind: ESPConnected})
		e.log.Info("connected")

		if err := e.serve(port); err != nil {
			e.emit(ESPStatus{Kind: ESPDisconnected, Err: err})
			e.log.Warn("link lost", zap.Error(err))
			announcedDown = true
			continue
		}
		// Clean shutdown.
		return
	}
}

// serve pumps one open port until it fails or the worker stops.
func (e *ESPLink) serve(port SerialPort) error {
	defer port.Close()

	buf := make([]byte, 256)
	var line bytes.Buffer

	for {
		select {
		case <-e.done:
			return nil
		default:
		}

		// Write side first so commands are not starved by a chatty port.
		if err := e.drainCommands(port); err != nil {
			return err
		}
		if err := e.flushTargets(port); err != nil {
			return err
		}

		port.SetReadDeadline(time.Now().Add(espPollInterval))
		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
		for _, b := range buf[:n] {
			switch b {
			case '\n', '\r':
				if line.Len() > 0 {
					e.emit(ESPStatus{Kind: ESPLine, Line: line.String()})
					line.Reset()
				}
			default:
				line.WriteByte(b)
				if line.Len() > reportMaxLen*4 {
					// Runaway line without a terminator; resync.
					line.Reset()
				}
			}
		}
	}
}

func (e *ESPLink) drainCommands(port SerialPort) error {
	for {
		select {
		case cmd := <-e.cmds:
			if err := e.writeLine(port, cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (e *ESPLink) flushTargets(port SerialPort) error {
	e.pendMutex.Lock()
	defer e.pendMutex.Unlock()
	for ch, deg := range e.pending {
		if !e.limiter.Allow() {
			return nil
		}
		if err := e.writeLine(port, fmt.Sprintf("setTemp %d %d", ch, deg)); err != nil {
			return err
		}
		delete(e.pending, ch)
	}
	return nil
}

func (e *ESPLink) writeLine(port SerialPort, cmd string) error {
	if _, err := port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}
