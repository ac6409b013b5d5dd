// alert_tone.go - Over-temperature and staleness alert beeper

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
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	toneSampleRate = 44100
	toneFrequency  = 880.0
	toneAttack     = 10 * time.Millisecond
	toneSustain    = 150 * time.Millisecond
	toneRelease    = 60 * time.Millisecond

	alertSuppression = 5 * time.Second
)

// SampleSource feeds mono float32 samples to an audio backend. The backend
// calls ReadSample from its own goroutine.
type SampleSource interface {
	ReadSample() float32
}

// AudioOutput is the minimal surface the beeper needs from a backend.
type AudioOutput interface {
	Start() error
	Close()
	IsStarted() bool
}

// AlertTone synthesises one square-wave beep with a linear attack and release
// envelope. Silent between triggers; retriggering restarts the envelope.
type AlertTone struct {
	mutex     sync.Mutex
	phase     float64
	pos       int // Samples into the current beep, -1 when idle
	attackN   int
	sustainN  int
	releaseN  int
	totalN    int
	amplitude float32
}

func NewAlertTone() *AlertTone {
	attackN := int(toneAttack.Seconds() * toneSampleRate)
	sustainN := int(toneSustain.Seconds() * toneSampleRate)
	releaseN := int(toneRelease.Seconds() * toneSampleRate)
	return &AlertTone{
		pos:       -1,
		attackN:   attackN,
		sustainN:  sustainN,
		releaseN:  releaseN,
		totalN:    attackN + sustainN + releaseN,
		amplitude: 0.25,
	}
}

// Trigger starts (or restarts) the beep.
func (t *AlertTone) Trigger() {
	t.mutex.Lock()
	t.pos = 0
	t.mutex.Unlock()
}

// Active reports whether a beep is in progress.
func (t *AlertTone) Active() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.pos >= 0
}

// ReadSample produces the next mono sample.
func (t *AlertTone) ReadSample() float32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.pos < 0 {
		return 0
	}
	var env float32
	switch {
	case t.pos < t.attackN:
		env = float32(t.pos) / float32(t.attackN)
	case t.pos < t.attackN+t.sustainN:
		env = 1
	default:
		rel := t.pos - t.attackN - t.sustainN
		env = 1 - float32(rel)/float32(t.releaseN)
	}

	t.phase += toneFrequency / toneSampleRate
	if t.phase >= 1 {
		t.phase -= 1
	}
	sample := t.amplitude * env
	if t.phase >= 0.5 {
		sample = -sample
	}

	t.pos++
	if t.pos >= t.totalN {
		t.pos = -1
		t.phase = 0
	}
	return sample
}

// AlertSounder decides when the tone fires: a channel crossing the
// over-temperature limit, or going stale while the rig is active. Each
// channel gets at most one beep per suppression window.
type AlertSounder struct {
	tone      *AlertTone
	out       AudioOutput
	clock     Clock
	log       *zap.Logger
	silent    bool
	lastAlert [NumChannels]time.Time

	// OnAlert, when set, is told about every fired alert after the tone.
	OnAlert func(device string, value, limit float64)
	limit   float64
}

// NewAlertSounder wires the tone to an audio backend. A backend that cannot
// initialise (no audio device) degrades to silent operation rather than
// failing startup.
func NewAlertSounder(silent bool, limit float64, clock Clock, log *zap.Logger) *AlertSounder {
	if clock == nil {
		clock = SystemClock
	}
	s := &AlertSounder{
		tone:   NewAlertTone(),
		clock:  clock,
		log:    log.Named("alert"),
		silent: silent,
		limit:  limit,
	}
	if silent {
		return s
	}
	out, err := NewAudioOutput(toneSampleRate, s.tone)
	if err != nil {
		s.log.Warn("audio unavailable, alerts will be silent", zap.Error(err))
		s.silent = true
		return s
	}
	s.out = out
	return s
}

// Evaluate scans the panel states and fires alerts where warranted. The tone
// is skipped in silent mode but OnAlert still runs.
func (s *AlertSounder) Evaluate(states []panelState, active bool) {
	now := s.clock.Now()
	for _, st := range states {
		if !st.HasValue || st.Channel < 0 || st.Channel >= NumChannels {
			continue
		}
		fire := st.Hot || (st.Stale && active)
		if !fire {
			continue
		}
		if now.Sub(s.lastAlert[st.Channel]) < alertSuppression {
			continue
		}
		s.lastAlert[st.Channel] = now
		if !s.silent {
			s.ensureStarted()
			s.tone.Trigger()
		}
		s.log.Warn("alert",
			zap.Int("channel", st.Channel),
			zap.Float64("value", st.Value),
			zap.Bool("stale", st.Stale))
		if s.OnAlert != nil {
			s.OnAlert(st.Device, st.Value, s.limit)
		}
	}
}

func (s *AlertSounder) ensureStarted() {
	if s.out != nil && !s.out.IsStarted() {
		if err := s.out.Start(); err != nil {
			s.log.Warn("audio start failed, going silent", zap.Error(err))
			s.silent = true
		}
	}
}

// Close releases the audio device.
func (s *AlertSounder) Close() {
	if s.out != nil {
		s.out.Close()
	}
}
