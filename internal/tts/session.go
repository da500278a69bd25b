package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// SessionState tracks the lifecycle of one synthesis call.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateRequesting
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var errSessionReused = errors.New("tts: session already consumed")

// session drives exactly one synthesis stream end to end. Sessions are
// single-use; a second run fails without touching the network.
type session struct {
	id        string
	cfg       VoiceConfig
	transport *transport
	emitter   *emitter
	log       *slog.Logger
	metrics   *engineMetrics

	state   atomic.Int32
	started atomic.Bool

	ttfb   time.Duration
	frames int
	bytes  int
}

func newSession(id string, cfg VoiceConfig, tr *transport, em *emitter, log *slog.Logger, metrics *engineMetrics) *session {
	return &session{
		id:        id,
		cfg:       cfg,
		transport: tr,
		emitter:   em,
		log:       log.With(slog.String("component", "tts-session"), slog.String("request_id", id)),
		metrics:   metrics,
	}
}

func (s *session) State() SessionState { return SessionState(s.state.Load()) }

func (s *session) setState(st SessionState) { s.state.Store(int32(st)) }

// TTFB reports the observed time to first audio byte, zero until audio
// has started.
func (s *session) TTFB() time.Duration { return s.ttfb }

// Frames reports how many frames were handed to the sink.
func (s *session) Frames() int { return s.frames }

// run executes the full pipeline: build request, open stream, reframe,
// emit. Frames already handed to the sink are never revoked; the first
// failure ends the session with a typed error and no retry.
func (s *session) run(ctx context.Context, text string) error {
	if !s.started.CompareAndSwap(false, true) {
		return errSessionReused
	}
	start := time.Now()
	s.metrics.sessionStarted(ctx)
	defer s.metrics.sessionEnded(ctx)
	defer func() {
		s.metrics.observeFrames(ctx, s.frames, s.bytes)
	}()

	s.setState(StateRequesting)
	payload, err := buildSpeechPayload(text, s.cfg)
	if err != nil {
		return s.fail(err)
	}
	s.log.Debug("synthesis request",
		slog.String("voice", s.cfg.Voice),
		slog.String("model", s.cfg.Model),
		slog.Int("chars", len(text)))

	stream, err := s.transport.open(ctx, payload)
	if err != nil {
		return s.terminate(ctx, err)
	}
	defer stream.Close()

	re := newReassembler(s.id, s.cfg)
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return s.terminate(ctx, err)
		}
		if s.State() == StateRequesting {
			s.ttfb = time.Since(start)
			s.setState(StateStreaming)
			s.metrics.observeTTFB(ctx, s.ttfb, s.cfg.Voice)
			s.log.Debug("first audio byte", slog.Duration("ttfb", s.ttfb))
		}
		for _, frame := range re.push(chunk) {
			if err := s.deliver(ctx, frame); err != nil {
				return s.terminate(ctx, err)
			}
		}
	}
	if stream.Chunks() == 0 {
		return s.fail(&ConnectError{Err: errors.New("stream ended before any audio byte")})
	}

	s.setState(StateDraining)
	if frame, ok, err := re.flush(); err != nil {
		return s.terminate(ctx, err)
	} else if ok {
		if err := s.deliver(ctx, frame); err != nil {
			return s.terminate(ctx, err)
		}
	}

	s.setState(StateClosed)
	s.log.Info("synthesis complete",
		slog.Int("frames", s.frames),
		slog.Int("bytes", s.bytes),
		slog.Duration("ttfb", s.ttfb),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *session) deliver(ctx context.Context, frame Frame) error {
	if err := s.emitter.emit(ctx, frame); err != nil {
		return err
	}
	s.frames++
	s.bytes += len(frame.PCM)
	return nil
}

// terminate routes a mid-stream error: caller cancellation closes the
// session cleanly, anything else fails it.
func (s *session) terminate(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		s.setState(StateClosed)
		s.log.Debug("synthesis canceled", slog.Int("frames", s.frames))
		return err
	}
	return s.fail(err)
}

func (s *session) fail(err error) error {
	s.setState(StateFailed)
	s.metrics.observeFailure(context.Background(), err)
	s.log.Warn("synthesis failed",
		slog.String("class", ErrorClass(err)),
		slog.Int("frames", s.frames),
		slogError(err))
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
