// osc_parser.go - OSC 1.0 packet decoding for VRChat avatar parameters

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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Wire format per the OSC 1.0 spec: messages are a padded address string, a
// padded type tag string and big-endian arguments; bundles are "#bundle",
// a timetag and size-prefixed elements. VRChat sends plain float messages,
// but the parser accepts the full common tag set so other senders work too.

const oscMaxBundleDepth = 8

var oscBundleMarker = []byte("#bundle\x00")

// OSCMessage is one decoded message. Args holds float32, float64, int32,
// int64, string, []byte, bool or nil depending on the type tag.
type OSCMessage struct {
	Address string
	Args    []any
}

// FirstFloat returns the first numeric argument as a float64. VRChat avatar
// parameters arrive as a single float32.
func (m OSCMessage) FirstFloat() (float64, bool) {
	for _, a := range m.Args {
		switch v := a.(type) {
		case float32:
			return float64(v), true
		case float64:
			return v, true
		case int32:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}

// parseOSCPacket decodes a UDP payload into messages, flattening bundles.
func parseOSCPacket(data []byte) ([]OSCMessage, error) {
	return parseOSCElement(data, 0)
}

func parseOSCElement(data []byte, depth int) ([]OSCMessage, error) {
	if depth > oscMaxBundleDepth {
		return nil, errors.New("bundle nesting too deep")
	}
	if len(data) == 0 {
		return nil, errors.New("empty packet")
	}
	if bytes.HasPrefix(data, oscBundleMarker) {
		return parseOSCBundle(data, depth)
	}
	msg, err := parseOSCMessage(data)
	if err != nil {
		return nil, err
	}
	return []OSCMessage{msg}, nil
}

func parseOSCBundle(data []byte, depth int) ([]OSCMessage, error) {
	rest := data[len(oscBundleMarker):]
	if len(rest) < 8 {
		return nil, errors.New("bundle truncated before timetag")
	}
	rest = rest[8:] // Timetag is ignored; everything applies immediately.

	var out []OSCMessage
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, errors.New("bundle element truncated before size")
		}
		size := int(int32(binary.BigEndian.Uint32(rest)))
		rest = rest[4:]
		if size <= 0 || size%4 != 0 || size > len(rest) {
			return nil, fmt.Errorf("bundle element size %d invalid", size)
		}
		msgs, err := parseOSCElement(rest[:size], depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
		rest = rest[size:]
	}
	return out, nil
}

func parseOSCMessage(data []byte) (OSCMessage, error) {
	addr, rest, err := oscString(data)
	if err != nil {
		return OSCMessage{}, fmt.Errorf("address: %w", err)
	}
	if addr == "" || addr[0] != '/' {
		return OSCMessage{}, fmt.Errorf("address %q does not start with /", addr)
	}

	tags, rest, err := oscString(rest)
	if err != nil {
		return OSCMessage{}, fmt.Errorf("type tags: %w", err)
	}
	if tags == "" || tags[0] != ',' {
		return OSCMessage{}, fmt.Errorf("type tag string %q does not start with comma", tags)
	}

	msg := OSCMessage{Address: addr}
	for _, tag := range tags[1:] {
		switch tag {
		case 'f':
			if len(rest) < 4 {
				return OSCMessage{}, errors.New("float argument truncated")
			}
			msg.Args = append(msg.Args, math.Float32frombits(binary.BigEndian.Uint32(rest)))
			rest = rest[4:]
		case 'i':
			if len(rest) < 4 {
				return OSCMessage{}, errors.New("int argument truncated")
			}
			msg.Args = append(msg.Args, int32(binary.BigEndian.Uint32(rest)))
			rest = rest[4:]
		case 'd':
			if len(rest) < 8 {
				return OSCMessage{}, errors.New("double argument truncated")
			}
			msg.Args = append(msg.Args, math.Float64frombits(binary.BigEndian.Uint64(rest)))
			rest = rest[8:]
		case 'h', 't':
			if len(rest) < 8 {
				return OSCMessage{}, errors.New("int64 argument truncated")
			}
			msg.Args = append(msg.Args, int64(binary.BigEndian.Uint64(rest)))
			rest = rest[8:]
		case 's', 'S':
			var s string
			s, rest, err = oscString(rest)
			if err != nil {
				return OSCMessage{}, fmt.Errorf("string argument: %w", err)
			}
			msg.Args = append(msg.Args, s)
		case 'b':
			if len(rest) < 4 {
				return OSCMessage{}, errors.New("blob argument truncated")
			}
			n := int(int32(binary.BigEndian.Uint32(rest)))
			rest = rest[4:]
			if n < 0 || oscPad(n) > len(rest) {
				return OSCMessage{}, fmt.Errorf("blob size %d invalid", n)
			}
			blob := make([]byte, n)
			copy(blob, rest[:n])
			msg.Args = append(msg.Args, blob)
			rest = rest[oscPad(n):]
		case 'T':
			msg.Args = append(msg.Args, true)
		case 'F':
			msg.Args = append(msg.Args, false)
		case 'N', 'I':
			msg.Args = append(msg.Args, nil)
		default:
			return OSCMessage{}, fmt.Errorf("unsupported type tag %q", tag)
		}
	}
	return msg, nil
}

// oscString reads a null-terminated string padded to a 4 byte boundary and
// returns the remainder.
func oscString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errors.New("unterminated string")
	}
	n := oscPad(i + 1)
	if n > len(b) {
		return "", nil, errors.New("string padding past end of packet")
	}
	return string(b[:i]), b[n:], nil
}

func oscPad(n int) int {
	return (n + 3) &^ 3
}

// oscChannelFor maps a VRChat parameter address to a Peltier channel index.
// Both the bare /PeltN form and the full avatar parameter path are accepted.
func oscChannelFor(addr string) (int, bool) {
	a := strings.TrimPrefix(addr, "/avatar/parameters")
	if !strings.HasPrefix(a, "/Pelt") {
		return 0, false
	}
	n, err := strconv.Atoi(a[len("/Pelt"):])
	if err != nil || n < 1 || n > NumChannels {
		return 0, false
	}
	return n - 1, true
}
