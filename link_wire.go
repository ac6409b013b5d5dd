// link_wire.go - Frame format for the partner mirror link

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

// The mirror link speaks newline-delimited JSON frames over TLS. The client
// opens with a hello carrying its name and shared token; the partner answers
// with a hello_ack whose status is either "ok" or "denied". After that both
// sides stream reading frames until one says bye or the connection drops.

const (
	frameHello    = "hello"
	frameHelloAck = "hello_ack"
	frameReading  = "reading"
	frameBye      = "bye"

	helloStatusOK     = "ok"
	helloStatusDenied = "denied"
)

type linkFrame struct {
	Type    string       `json:"type"`
	Name    string       `json:"name,omitempty"`
	Token   string       `json:"token,omitempty"`
	Status  string       `json:"status,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Reading *wireReading `json:"reading,omitempty"`
}

type wireReading struct {
	Device  string `json:"device"`
	Channel int    `json:"channel"`
	Metric  string `json:"metric"`
	Raw     int32  `json:"raw"`
	Seq     uint64 `json:"seq"`
}

func readingToWire(r SensorReading) *wireReading {
	return &wireReading{
		Device:  r.DeviceID,
		Channel: r.Channel,
		Metric:  r.Metric.String(),
		Raw:     r.Raw,
		Seq:     r.Seq,
	}
}

// toReading validates a wire reading and stamps it with the local receive
// time. Using local time instead of a partner supplied timestamp keeps the
// staleness clock immune to skew between instances.
func (w *wireReading) toReading(at time.Time) (SensorReading, error) {
	if w.Device == "" {
		return SensorReading{}, fmt.Errorf("wire reading without device")
	}
	if w.Channel < 0 || w.Channel >= NumChannels {
		return SensorReading{}, fmt.Errorf("wire reading channel %d out of range", w.Channel)
	}
	metric, ok := metricFromName(w.Metric)
	if !ok {
		return SensorReading{}, fmt.Errorf("wire reading metric %q unknown", w.Metric)
	}
	return SensorReading{
		DeviceID:   w.Device,
		Channel:    w.Channel,
		Metric:     metric,
		Raw:        w.Raw,
		Seq:        w.Seq,
		CapturedAt: at,
		Remote:     true,
	}, nil
}
