package tts

import "context"

// SpeakRequest contains parameters to synthesize one utterance.
// Voice, Speed and Model override the engine defaults when set.
type SpeakRequest struct {
	SessionID string
	Text      string
	Voice     string
	Speed     float64
	Model     string
}

// Frame is one playback-ready slice of audio. For pcm16 the payload is
// interleaved little-endian samples sized to the engine frame duration;
// the last frame of a stream may be shorter. For compressed encodings
// the payload passes through as delivered by the engine.
type Frame struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeakRequest) (<-chan Frame, <-chan error)
}

// FrameSink receives frames in sequence order. Accept returns once the
// sink has taken ownership of the frame, or ctx is done.
type FrameSink interface {
	Accept(ctx context.Context, frame Frame) error
}
