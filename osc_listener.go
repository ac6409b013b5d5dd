// osc_listener.go - UDP worker feeding VRChat touch parameters into the engine

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
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TargetUpdate is one requested target temperature decoded from OSC. The
// avatar side publishes a 0..1 float which maps to degrees via x100, exactly
// what the firmware expects; clamping to the configured range happens where
// the update is applied.
type TargetUpdate struct {
	Channel int
	Value   float64
	At      time.Time
}

// OSCListener receives VRChat avatar parameters over UDP and turns /PeltN
// touches into target updates. Unknown addresses fall back to channel 0, a
// quirk the avatars in the field rely on.
type OSCListener struct {
	addr  string
	clock Clock
	log   *zap.Logger

	mutex   sync.Mutex
	conn    *net.UDPConn
	out     chan TargetUpdate
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

const oscQueueDepth = 64

func NewOSCListener(addr string, clock Clock, log *zap.Logger) *OSCListener {
	if clock == nil {
		clock = SystemClock
	}
	return &OSCListener{
		addr:  addr,
		clock: clock,
		log:   log.Named("osc"),
		out:   make(chan TargetUpdate, oscQueueDepth),
	}
}

// Start binds the UDP socket and launches the receive loop.
func (l *OSCListener) Start() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.started {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve OSC address %s: %w", l.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind OSC socket %s: %w", l.addr, err)
	}

	l.conn = conn
	l.done = make(chan struct{})
	l.started = true
	l.wg.Add(1)
	go l.receiveLoop(conn, l.done)

	l.log.Info("listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Stop shuts the socket down and waits for the receive loop to drain.
// Idempotent; safe to call before Start.
func (l *OSCListener) Stop() {
	l.mutex.Lock()
	if !l.started {
		l.mutex.Unlock()
		return
	}
	l.started = false
	close(l.done)
	l.conn.Close()
	l.mutex.Unlock()

	l.wg.Wait()
}

// Targets returns the bounded update queue. When the queue backs up the
// oldest pending update is dropped; targets are latest-wins by nature.
func (l *OSCListener) Targets() <-chan TargetUpdate {
	return l.out
}

// LocalAddr reports the bound address, useful when the port was 0.
func (l *OSCListener) LocalAddr() net.Addr {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *OSCListener) receiveLoop(conn *net.UDPConn, done chan struct{}) {
	defer l.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			select {
			case <-done:
				return
			default:
				l.log.Warn("receive failed", zap.Error(err))
				continue
			}
		}

		msgs, err := parseOSCPacket(buf[:n])
		if err != nil {
			l.log.Warn("dropping malformed packet", zap.Int("bytes", n), zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			l.handleMessage(msg)
		}
	}
}

func (l *OSCListener) handleMessage(msg OSCMessage) {
	value, ok := msg.FirstFloat()
	if !ok {
		l.log.Warn("message has no numeric argument", zap.String("addr", msg.Address))
		return
	}
	channel, ok := oscChannelFor(msg.Address)
	if !ok {
		l.log.Warn("unknown address, defaulting to channel 0", zap.String("addr", msg.Address))
		channel = 0
	}

	u := TargetUpdate{Channel: channel, Value: value * 100, At: l.clock.Now()}
	select {
	case l.out <- u:
	default:
		// Queue full; shed the oldest pending update in favour of this one.
		select {
		case <-l.out:
			metricQueueDrops.WithLabelValues("osc").Inc()
		default:
		}
		select {
		case l.out <- u:
		default:
		}
	}
}
