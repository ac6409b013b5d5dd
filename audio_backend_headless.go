//go:build nosound

package main

// Silent stand-in so nosound builds keep the AlertSounder wiring intact.
type SilentAudioOutput struct {
	started bool
}

func NewAudioOutput(int, SampleSource) (AudioOutput, error) {
	return &SilentAudioOutput{}, nil
}

func (s *SilentAudioOutput) Start() error {
	s.started = true
	return nil
}

func (s *SilentAudioOutput) Close() {
	s.started = false
}

func (s *SilentAudioOutput) IsStarted() bool {
	return s.started
}

func init() {
	compiledFeatures = append(compiledFeatures, "audio:silent")
}
