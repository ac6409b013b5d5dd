//go:build !nosound

// audio_backend_oto.go - OTO v3 audio output for the alert tone

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
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

// OtoOutput plays a SampleSource through the system mixer. The source pointer
// is atomic so the audio goroutine's Read never takes the control mutex.
type OtoOutput struct {
	ctx     *oto.Context
	player  *oto.Player
	source  atomic.Pointer[SampleSource]
	started bool
	mutex   sync.Mutex // Only for setup/control operations
}

func NewAudioOutput(sampleRate int, source SampleSource) (AudioOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	out := &OtoOutput{ctx: ctx}
	out.source.Store(&source)
	out.player = ctx.NewPlayer(out)
	return out, nil
}

// Read fills p with float32 LE samples pulled from the source. Hot path: no
// locks, no allocation.
func (o *OtoOutput) Read(p []byte) (int, error) {
	src := o.source.Load()
	if src == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	for i := 0; i+4 <= len(p); i += 4 {
		binary.LittleEndian.PutUint32(p[i:], math.Float32bits((*src).ReadSample()))
	}
	return len(p) &^ 3, nil
}

func (o *OtoOutput) Start() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if !o.started && o.player != nil {
		o.player.Play()
		o.started = true
	}
	return nil
}

func (o *OtoOutput) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	o.started = false
}

func (o *OtoOutput) IsStarted() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.started
}

func init() {
	compiledFeatures = append(compiledFeatures, "audio:oto")
}
