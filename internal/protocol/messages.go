package protocol

import "time"

// SpeakRequest asks the relay to synthesize one utterance.
type SpeakRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Model     string  `json:"model,omitempty"`
	ReplyTo   string  `json:"reply_to,omitempty"`
}

// AudioChunk carries PCM audio streamed back to edge players. A chunk
// with Final set and an empty payload marks the end of the utterance.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SpeakStatus reports the outcome of a synthesis request.
type SpeakStatus struct {
	SessionID  string    `json:"session_id"`
	Completed  bool      `json:"completed"`
	Source     string    `json:"source,omitempty"`
	Frames     int       `json:"frames"`
	TTFBMillis int64     `json:"ttfb_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const DefaultSpeakPrefix = "speak"

// RequestSubject is where edge nodes publish SpeakRequests.
func RequestSubject(prefix string) string {
	return prefix + ".request"
}

// AudioSubject carries AudioChunks for one session.
func AudioSubject(prefix, sessionID string) string {
	return prefix + ".audio." + sessionID
}

// DoneSubject carries the terminal SpeakStatus for one session.
func DoneSubject(prefix, sessionID string) string {
	return prefix + ".done." + sessionID
}

// CancelSubject aborts an in-flight session when anything is published to it.
func CancelSubject(prefix, sessionID string) string {
	return prefix + ".cancel." + sessionID
}
