// osc_parser_test.go - Tests for OSC packet decoding

package main

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

// oscStringBytes encodes a null-terminated string padded to 4 bytes.
func oscStringBytes(s string) []byte {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// oscFloatMessage builds an address + ",f" + float32 message.
func oscFloatMessage(addr string, v float32) []byte {
	var buf bytes.Buffer
	buf.Write(oscStringBytes(addr))
	buf.Write(oscStringBytes(",f"))
	var f [4]byte
	binary.BigEndian.PutUint32(f[:], math.Float32bits(v))
	buf.Write(f[:])
	return buf.Bytes()
}

// TestParseOSCFloatMessage decodes the exact packet VRChat sends.
func TestParseOSCFloatMessage(t *testing.T) {
	msgs, err := parseOSCPacket(oscFloatMessage("/Pelt3", 0.27))
	if err != nil {
		t.Fatalf("parseOSCPacket failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Address != "/Pelt3" {
		t.Errorf("Expected address /Pelt3, got %q", msgs[0].Address)
	}
	v, ok := msgs[0].FirstFloat()
	if !ok {
		t.Fatalf("Expected a float argument")
	}
	if math.Abs(v-0.27) > 1e-6 {
		t.Errorf("Expected 0.27, got %v", v)
	}
}

// TestParseOSCMixedArgs exercises the full supported tag set in one message.
func TestParseOSCMixedArgs(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(oscStringBytes("/status"))
	buf.Write(oscStringBytes(",ifsTbN"))
	var i [4]byte
	binary.BigEndian.PutUint32(i[:], 42)
	buf.Write(i[:])
	var f [4]byte
	binary.BigEndian.PutUint32(f[:], math.Float32bits(1.5))
	buf.Write(f[:])
	buf.Write(oscStringBytes("hot"))
	var bl [4]byte
	binary.BigEndian.PutUint32(bl[:], 2)
	buf.Write(bl[:])
	buf.Write([]byte{0xAB, 0xCD, 0, 0}) // blob data + pad

	msgs, err := parseOSCPacket(buf.Bytes())
	if err != nil {
		t.Fatalf("parseOSCPacket failed: %v", err)
	}
	args := msgs[0].Args
	if len(args) != 6 {
		t.Fatalf("Expected 6 args, got %d", len(args))
	}
	if args[0].(int32) != 42 {
		t.Errorf("Expected int32 42, got %v", args[0])
	}
	if args[1].(float32) != 1.5 {
		t.Errorf("Expected float 1.5, got %v", args[1])
	}
	if args[2].(string) != "hot" {
		t.Errorf("Expected string hot, got %v", args[2])
	}
	if args[3].(bool) != true {
		t.Errorf("Expected true, got %v", args[3])
	}
	if !bytes.Equal(args[4].([]byte), []byte{0xAB, 0xCD}) {
		t.Errorf("Expected blob ABCD, got %v", args[4])
	}
	if args[5] != nil {
		t.Errorf("Expected nil arg, got %v", args[5])
	}
}

// TestParseOSCBundle wraps two messages in a bundle and expects both out in
// order.
func TestParseOSCBundle(t *testing.T) {
	m1 := oscFloatMessage("/Pelt1", 0.10)
	m2 := oscFloatMessage("/Pelt2", 0.20)

	var buf bytes.Buffer
	buf.Write([]byte("#bundle\x00"))
	buf.Write(make([]byte, 8)) // timetag
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(m1)))
	buf.Write(size[:])
	buf.Write(m1)
	binary.BigEndian.PutUint32(size[:], uint32(len(m2)))
	buf.Write(size[:])
	buf.Write(m2)

	msgs, err := parseOSCPacket(buf.Bytes())
	if err != nil {
		t.Fatalf("parseOSCPacket failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Address != "/Pelt1" || msgs[1].Address != "/Pelt2" {
		t.Errorf("Expected /Pelt1 then /Pelt2, got %q %q", msgs[0].Address, msgs[1].Address)
	}
}

// TestParseOSCRejects feeds structurally broken packets.
func TestParseOSCRejects(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no slash address", oscStringBytes("Pelt1")},
		{"unterminated address", []byte{'/', 'P', 'e', 'l'}},
		{"missing type tags", oscStringBytes("/Pelt1")},
		{"tags without comma", append(oscStringBytes("/Pelt1"), oscStringBytes("f")...)},
		{"truncated float", append(append(oscStringBytes("/Pelt1"), oscStringBytes(",f")...), 0x3F)},
		{"unknown tag", append(oscStringBytes("/Pelt1"), oscStringBytes(",q")...)},
		{"bundle no timetag", []byte("#bundle\x00")},
		{"bundle bad size", append(append([]byte("#bundle\x00"), make([]byte, 8)...), 0xFF, 0xFF, 0xFF, 0xFF)},
	}

	for _, tc := range cases {
		if _, err := parseOSCPacket(tc.data); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}

// TestParseOSCRandomBytes proves garbage never panics the parser.
func TestParseOSCRandomBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(0x05C))
	for i := 0; i < 10000; i++ {
		data := make([]byte, rng.Intn(128))
		for j := range data {
			data[j] = byte(rng.Intn(256))
		}
		parseOSCPacket(data) // Outcome does not matter, only that it returns.
	}
}

// TestOSCChannelFor maps addresses to channel indices.
func TestOSCChannelFor(t *testing.T) {
	cases := []struct {
		addr    string
		channel int
		ok      bool
	}{
		{"/Pelt1", 0, true},
		{"/Pelt8", 7, true},
		{"/avatar/parameters/Pelt3", 2, true},
		{"/Pelt0", 0, false},
		{"/Pelt9", 0, false},
		{"/PeltX", 0, false},
		{"/Something", 0, false},
	}

	for _, tc := range cases {
		ch, ok := oscChannelFor(tc.addr)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.addr, tc.ok, ok)
			continue
		}
		if ok && ch != tc.channel {
			t.Errorf("%s: expected channel %d, got %d", tc.addr, tc.channel, ch)
		}
	}
}
