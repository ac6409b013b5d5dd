// sensor_device.go - Sensor device handles and hotplug events

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
	"time"
)

// NumChannels is the number of Peltier channels a rig exposes. VRChat
// publishes /Pelt1 through /Pelt8, so the count is fixed by the avatar side.
const NumChannels = 8

// DeviceCaps describes what a sensor device can do. Capability flags are a
// bitmask so a handle can advertise any combination.
type DeviceCaps uint32

const (
	CAP_TEMPERATURE DeviceCaps = 1 << iota // Reports probe temperatures
	CAP_TARGET                             // Accepts target temperature commands
	CAP_REMOTE                             // Mirrored from a partner instance
)

func (c DeviceCaps) Has(flag DeviceCaps) bool {
	return c&flag != 0
}

func (c DeviceCaps) String() string {
	s := ""
	if c.Has(CAP_TEMPERATURE) {
		s += "T"
	}
	if c.Has(CAP_TARGET) {
		s += "G"
	}
	if c.Has(CAP_REMOTE) {
		s += "R"
	}
	if s == "" {
		return "-"
	}
	return s
}

// DeviceState tracks whether a device is currently usable.
type DeviceState int

const (
	DeviceConnected DeviceState = iota
	DeviceDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DeviceHandle identifies one attached sensor device. The ID is stable for
// the lifetime of the attachment; the monitor owns the authoritative copy and
// everything downstream works on value snapshots.
type DeviceHandle struct {
	ID    string // Stable identifier, the device node base name
	Path  string // Full device node path
	Caps  DeviceCaps
	State DeviceState
}

func (d DeviceHandle) String() string {
	return fmt.Sprintf("%s[%s %s]", d.ID, d.Caps, d.State)
}

// DeviceEventKind enumerates hotplug transitions.
type DeviceEventKind int

const (
	DeviceAdded DeviceEventKind = iota
	DeviceRemoved
	DeviceUpdated
)

func (k DeviceEventKind) String() string {
	switch k {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	case DeviceUpdated:
		return "updated"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// DeviceEvent is one hotplug observation. Events for the same device are
// delivered in the order they were observed.
type DeviceEvent struct {
	Kind   DeviceEventKind
	Device DeviceHandle
	At     time.Time
}

// Clock abstracts time.Now so staleness and capture timestamps can be driven
// from tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used outside of tests.
var SystemClock Clock = systemClock{}
