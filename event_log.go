// event_log.go - Bounded in-memory log ring for the overlay and IPC

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
	"fmt"
	"sync"
	"time"
)

// eventLogDepth is how many entries the overlay log page keeps. Older
// entries fall off the back.
const eventLogDepth = 200

// LogEntry is one line of the on-screen log.
type LogEntry struct {
	At      time.Time
	Tag     string
	Message string
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s [%s] %s", e.At.Format("15:04:05.000"), e.Tag, e.Message)
}

// EventLog is a fixed-depth ring of recent log entries. It backs the overlay
// log page and the IPC log command, independent of wherever the structured
// logs are being written.
type EventLog struct {
	mutex   sync.Mutex
	entries [eventLogDepth]LogEntry
	next    int
	count   int
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append records one entry, evicting the oldest when the ring is full.
func (l *EventLog) Append(at time.Time, tag, message string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries[l.next] = LogEntry{At: at, Tag: tag, Message: message}
	l.next = (l.next + 1) % eventLogDepth
	if l.count < eventLogDepth {
		l.count++
	}
}

// Len returns how many entries are held.
func (l *EventLog) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.count
}

// Tail returns up to n entries, oldest first, newest last.
func (l *EventLog) Tail(n int) []LogEntry {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if n > l.count {
		n = l.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]LogEntry, n)
	start := (l.next - n + eventLogDepth*2) % eventLogDepth
	for i := 0; i < n; i++ {
		out[i] = l.entries[(start+i)%eventLogDepth]
	}
	return out
}
