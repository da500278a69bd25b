package tts

import (
	"context"
	"time"
)

// mockSynth produces short bursts of silence, one frame per 100ms of
// requested speech. Useful for wiring tests and dry runs without an
// engine.
type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynthesizer(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SpeakRequest) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer close(errs)

		// About one frame per ten characters, at least one.
		count := len(req.Text)/10 + 1
		if count > 10 {
			count = 10
		}
		frameBytes := m.sampleRate / 10 * m.channels * 2
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(10 * time.Millisecond):
			}
			select {
			case frames <- Frame{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, frameBytes),
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return frames, errs
}
