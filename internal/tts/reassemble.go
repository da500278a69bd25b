package tts

// reassembler aligns arbitrary network chunks to playback frames.
// Bytes that do not yet fill a frame are carried into the next push;
// no byte is dropped and no byte is delivered twice.
type reassembler struct {
	sessionID  string
	sampleRate int
	channels   int
	frameSize  int // whole frame in bytes; 0 means passthrough
	sampleSize int
	carry      []byte
	seq        int
}

func newReassembler(sessionID string, cfg VoiceConfig) *reassembler {
	r := &reassembler{
		sessionID:  sessionID,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
	if cfg.Encoding.sampleAligned() {
		r.frameSize = cfg.frameBytes()
		r.sampleSize = cfg.sampleBytes()
	}
	return r
}

// push appends one raw chunk and returns every whole frame now
// available, in order. Compressed encodings map chunks to frames 1:1.
func (r *reassembler) push(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	if r.frameSize == 0 {
		return []Frame{r.frame(chunk)}
	}
	r.carry = append(r.carry, chunk...)
	var frames []Frame
	for len(r.carry) >= r.frameSize {
		frames = append(frames, r.frame(r.carry[:r.frameSize]))
		r.carry = r.carry[r.frameSize:]
	}
	if len(frames) > 0 {
		r.carry = append([]byte(nil), r.carry...)
	}
	return frames
}

// flush ends the stream. A trailing remainder becomes one short frame
// when it still holds whole samples; anything else means the engine
// truncated mid-sample.
func (r *reassembler) flush() (Frame, bool, error) {
	if r.frameSize == 0 || len(r.carry) == 0 {
		return Frame{}, false, nil
	}
	if rem := len(r.carry) % r.sampleSize; rem != 0 {
		return Frame{}, false, &MalformedAudioError{Trailing: rem}
	}
	f := r.frame(r.carry)
	r.carry = nil
	return f, true, nil
}

func (r *reassembler) frame(pcm []byte) Frame {
	f := Frame{
		SessionID:  r.sessionID,
		Sequence:   r.seq,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		PCM:        append([]byte(nil), pcm...),
	}
	r.seq++
	return f
}
