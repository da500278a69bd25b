package tts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConfigError reports invalid engine configuration detected before any
// network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tts config: %s %s", e.Field, e.Reason)
}

// InputError reports unusable synthesis input, raised before a request
// is sent.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("tts input: %s", e.Reason)
}

// ConnectError reports that a stream could not be established: dial
// failure, TLS failure, or a connection dropped before any audio byte
// arrived.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("tts connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutPhase names the stream phase whose deadline expired.
type TimeoutPhase string

const (
	PhaseFirstByte TimeoutPhase = "first-byte"
	PhaseNextChunk TimeoutPhase = "next-chunk"
)

// TimeoutError reports that the engine produced no data within the
// limit for the given phase.
type TimeoutError struct {
	Phase TimeoutPhase
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tts timeout: no %s within %s", e.Phase, e.Limit)
}

// ServerError reports a non-success HTTP status from the engine, with
// the message extracted from the response body when one was present.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("tts server: status %d: %s", e.Status, e.Message)
}

// StreamInterrupted reports a connection lost after audio had started
// flowing. Frames delivered before the interruption remain valid.
type StreamInterrupted struct {
	Chunks int
	Err    error
}

func (e *StreamInterrupted) Error() string {
	return fmt.Sprintf("tts stream interrupted after %d chunks: %v", e.Chunks, e.Err)
}

func (e *StreamInterrupted) Unwrap() error { return e.Err }

// MalformedAudioError reports trailing bytes at end of stream that
// cannot form whole samples.
type MalformedAudioError struct {
	Trailing int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("tts malformed audio: %d trailing bytes do not align to sample size", e.Trailing)
}

// BackpressureTimeout reports a sink that did not accept a frame within
// the configured wait.
type BackpressureTimeout struct {
	Sequence int
	Limit    time.Duration
}

func (e *BackpressureTimeout) Error() string {
	return fmt.Sprintf("tts backpressure: frame %d not accepted within %s", e.Sequence, e.Limit)
}

// ErrorClass maps a synthesis failure onto a stable label used in logs,
// metrics and bus status messages.
func ErrorClass(err error) string {
	var (
		configErr    *ConfigError
		inputErr     *InputError
		connectErr   *ConnectError
		timeoutErr   *TimeoutError
		serverErr    *ServerError
		interrupted  *StreamInterrupted
		malformed    *MalformedAudioError
		backpressure *BackpressureTimeout
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &configErr):
		return "config"
	case errors.As(err, &inputErr):
		return "input"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &serverErr):
		return "server"
	case errors.As(err, &interrupted):
		return "interrupted"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &backpressure):
		return "backpressure"
	case errors.As(err, &connectErr):
		return "connect"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
