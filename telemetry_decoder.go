// telemetry_decoder.go - Raw sensor report decoding

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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// The ESP32 firmware reports sensor values as single lines in an NMEA
// flavoured format:
//
//	$TS,<channel>,<metric>,<raw>*<checksum>
//
// where <metric> is T (probe temperature), G (active target) or D (drive
// duty), <raw> is a signed integer in centi-units and <checksum> is the XOR
// of every byte between $ and * rendered as two uppercase hex digits. Line
// terminators are stripped by the serial reader before decoding.

const (
	reportMinLen = 12 // "$TS,0,T,0*00"
	reportMaxLen = 64
)

// DecodeErrorKind separates frames that are structurally broken from frames
// that failed checksum verification.
type DecodeErrorKind int

const (
	DecodeMalformed DecodeErrorKind = iota
	DecodeBadChecksum
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed"
	case DecodeBadChecksum:
		return "bad checksum"
	}
	return fmt.Sprintf("decode(%d)", int(k))
}

// DecodeError reports why a raw report was rejected. Rejected reports are
// dropped by the caller; decoding itself never panics on any input.
type DecodeError struct {
	Kind    DecodeErrorKind
	Details string
	Raw     []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("report %s: %s (%q)", e.Kind, e.Details, e.Raw)
}

// Metric identifies what a reading measures.
type Metric int

const (
	MetricTemperature Metric = iota
	MetricTarget
	MetricDuty
)

func (m Metric) String() string {
	switch m {
	case MetricTemperature:
		return "temp"
	case MetricTarget:
		return "target"
	case MetricDuty:
		return "duty"
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// Unit returns the display unit for the metric.
func (m Metric) Unit() string {
	if m == MetricDuty {
		return "%"
	}
	return "°C"
}

func metricFromLetter(s string) (Metric, bool) {
	switch s {
	case "T":
		return MetricTemperature, true
	case "G":
		return MetricTarget, true
	case "D":
		return MetricDuty, true
	}
	return 0, false
}

func metricFromName(s string) (Metric, bool) {
	switch s {
	case "temp":
		return MetricTemperature, true
	case "target":
		return MetricTarget, true
	case "duty":
		return MetricDuty, true
	}
	return 0, false
}

// SensorReading is one decoded sensor value. Readings are immutable once
// produced and keep referencing the device handle that was valid at capture
// time; a later disconnect never invalidates them.
type SensorReading struct {
	DeviceID   string
	Channel    int
	Metric     Metric
	Raw        int32 // Centi-units as sent on the wire
	Seq        uint64
	CapturedAt time.Time
	Remote     bool // Received over the partner link rather than locally
}

// Value converts the raw centi-unit integer to the metric's unit. The
// conversion is exact to two decimal places in both directions.
func (r SensorReading) Value() float64 {
	return float64(r.Raw) / 100
}

// StaleAt reports whether the reading has aged out. A reading is stale
// strictly after CapturedAt+threshold; at exactly the threshold it is still
// fresh.
func (r SensorReading) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.CapturedAt) > threshold
}

// rawForValue is the inverse of Value.
func rawForValue(v float64) int32 {
	return int32(math.Round(v * 100))
}

// reportChecksum XORs the payload bytes between $ and *.
func reportChecksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// DecodeReport parses one raw report line into a SensorReading attributed to
// dev. The function is pure: the same inputs always produce the same reading,
// and the capture timestamp and sequence number are supplied by the caller so
// the reading is complete on return.
func DecodeReport(raw []byte, dev DeviceHandle, at time.Time, seq uint64) (SensorReading, error) {
	if len(raw) < reportMinLen || len(raw) > reportMaxLen {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("length %d outside %d..%d", len(raw), reportMinLen, reportMaxLen),
			Raw:     raw,
		}
	}
	if !bytes.HasPrefix(raw, []byte("$TS,")) {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: "missing $TS marker",
			Raw:     raw,
		}
	}
	star := bytes.IndexByte(raw, '*')
	if star < 0 {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: "missing checksum separator",
			Raw:     raw,
		}
	}
	if len(raw)-star != 3 {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: "checksum must be exactly two hex digits",
			Raw:     raw,
		}
	}
	want, err := strconv.ParseUint(string(raw[star+1:]), 16, 8)
	if err != nil {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: "checksum is not hex",
			Raw:     raw,
		}
	}
	if got := reportChecksum(raw[1:star]); got != byte(want) {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeBadChecksum,
			Details: fmt.Sprintf("computed %02X, frame says %02X", got, byte(want)),
			Raw:     raw,
		}
	}

	fields := strings.Split(string(raw[1:star]), ",")
	if len(fields) != 4 {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("expected 4 fields, got %d", len(fields)),
			Raw:     raw,
		}
	}
	channel, err := strconv.Atoi(fields[1])
	if err != nil {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("channel %q is not numeric", fields[1]),
			Raw:     raw,
		}
	}
	metric, ok := metricFromLetter(fields[2])
	if !ok {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("unknown metric %q", fields[2]),
			Raw:     raw,
		}
	}
	value, err := strconv.ParseInt(fields[3], 10, 32)
	if err != nil {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("value %q is not numeric", fields[3]),
			Raw:     raw,
		}
	}
	if channel < 0 || channel >= NumChannels {
		return SensorReading{}, &DecodeError{
			Kind:    DecodeMalformed,
			Details: fmt.Sprintf("channel %d out of range 0..%d", channel, NumChannels-1),
			Raw:     raw,
		}
	}

	return SensorReading{
		DeviceID:   dev.ID,
		Channel:    channel,
		Metric:     metric,
		Raw:        int32(value),
		Seq:        seq,
		CapturedAt: at,
	}, nil
}

// looksLikeReport is a cheap pre-filter so plain firmware chatter does not
// produce decode warnings.
func looksLikeReport(line string) bool {
	return strings.HasPrefix(line, "$TS,")
}
