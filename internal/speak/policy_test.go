package speak

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ambiware-labs/voxa/internal/config"
	"github.com/ambiware-labs/voxa/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type collectSink struct {
	frames []tts.Frame
}

func (c *collectSink) Accept(_ context.Context, frame tts.Frame) error {
	c.frames = append(c.frames, frame)
	return nil
}

// scriptedEngine replays one scripted step per attempt, repeating the
// last step once the script runs out.
type scriptedEngine struct {
	calls  int
	script []func(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) error
}

func (e *scriptedEngine) SynthesizeTo(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) error {
	idx := e.calls
	e.calls++
	if idx >= len(e.script) {
		idx = len(e.script) - 1
	}
	return e.script[idx](ctx, req, sink)
}

func emitFrames(count, size int) func(context.Context, tts.SpeakRequest, tts.FrameSink) error {
	return func(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) error {
		for i := 0; i < count; i++ {
			frame := tts.Frame{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: 8000,
				Channels:   1,
				PCM:        make([]byte, size),
			}
			if err := sink.Accept(ctx, frame); err != nil {
				return err
			}
		}
		return nil
	}
}

func failWith(err error) func(context.Context, tts.SpeakRequest, tts.FrameSink) error {
	return func(context.Context, tts.SpeakRequest, tts.FrameSink) error {
		return err
	}
}

func fastFallbackConfig(mode string, retries int) config.FallbackConfig {
	return config.FallbackConfig{Mode: mode, Retries: retries, RetryBackoffMS: 1}
}

func TestPolicyServesRemote(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		emitFrames(3, 160),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("none", 0), nil, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	sink := &collectSink{}
	out, err := policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "hello"}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Source != "remote" || out.Frames != 3 || out.Bytes != 480 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(sink.frames) != 3 {
		t.Fatalf("expected 3 frames delivered, got %d", len(sink.frames))
	}
	if engine.calls != 1 {
		t.Fatalf("expected 1 engine call, got %d", engine.calls)
	}
}

func TestPolicyServesRepeatsFromCache(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		emitFrames(2, 160),
	}}
	cfg := fastFallbackConfig("none", 0)
	cfg.CacheEntries = 8
	policy, err := NewPolicy(engine, cfg, nil, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	req := tts.SpeakRequest{SessionID: "first", Text: "say again", Voice: "af_heart", Speed: 1.0, Model: "tts-1"}
	if _, err := policy.Run(context.Background(), req, &collectSink{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	req.SessionID = "second"
	sink := &collectSink{}
	out, err := policy.Run(context.Background(), req, sink)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Source != "cache" {
		t.Fatalf("expected cache hit, got source %q", out.Source)
	}
	if engine.calls != 1 {
		t.Fatalf("expected engine untouched on repeat, got %d calls", engine.calls)
	}
	if len(sink.frames) != 2 {
		t.Fatalf("expected 2 replayed frames, got %d", len(sink.frames))
	}
	for i, frame := range sink.frames {
		if frame.SessionID != "second" || frame.Sequence != i {
			t.Fatalf("frame %d not restamped: %+v", i, frame)
		}
	}
}

func TestPolicyRetriesBeforeAudio(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.ConnectError{Err: errors.New("refused")}),
		emitFrames(2, 160),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("none", 2), nil, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	out, err := policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "retry me"}, &collectSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if engine.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", engine.calls)
	}
	if out.Source != "remote" || out.Frames != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestPolicyNeverRetriesAfterAudio(t *testing.T) {
	interrupted := &tts.StreamInterrupted{Chunks: 2, Err: errors.New("reset")}
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		func(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) error {
			if err := emitFrames(2, 160)(ctx, req, sink); err != nil {
				return err
			}
			return interrupted
		},
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("mock", 3), tts.NewMockSynthesizer(8000, 1), newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	out, err := policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "partial"}, &collectSink{})
	if err == nil {
		t.Fatal("expected stream interruption to surface")
	}
	if engine.calls != 1 {
		t.Fatalf("expected a single attempt once audio flowed, got %d", engine.calls)
	}
	if out.Source != "remote" || out.Frames != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	var si *tts.StreamInterrupted
	if !errors.As(err, &si) {
		t.Fatalf("expected StreamInterrupted, got %v", err)
	}
}

func TestPolicyDoesNotRetryClientErrors(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.ServerError{Status: 400, Message: "bad voice"}),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("none", 3), nil, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	_, err = policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "x"}, &collectSink{})
	if err == nil {
		t.Fatal("expected error")
	}
	if engine.calls != 1 {
		t.Fatalf("4xx should not retry, got %d calls", engine.calls)
	}
}

func TestPolicyRetriesServerOverload(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.ServerError{Status: 503, Message: "overloaded"}),
		emitFrames(1, 160),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("none", 1), nil, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	if _, err := policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "x"}, &collectSink{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if engine.calls != 2 {
		t.Fatalf("expected retry on 503, got %d calls", engine.calls)
	}
}

func TestPolicyFallsBackWhenEngineUnreachable(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.ConnectError{Err: errors.New("refused")}),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("mock", 1), tts.NewMockSynthesizer(8000, 1), newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	sink := &collectSink{}
	out, err := policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "fallback please"}, sink)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if out.Source != "mock" {
		t.Fatalf("expected mock source, got %q", out.Source)
	}
	if engine.calls != 2 {
		t.Fatalf("expected 2 engine attempts before fallback, got %d", engine.calls)
	}
	if out.Frames == 0 || len(sink.frames) != out.Frames {
		t.Fatalf("expected fallback frames, got %+v", out)
	}
	for i, frame := range sink.frames {
		if frame.Sequence != i {
			t.Fatalf("fallback frames not sequenced: %+v", frame)
		}
	}
}

type countingSynth struct {
	calls int
	inner tts.Synthesizer
}

func (c *countingSynth) Synthesize(ctx context.Context, req tts.SpeakRequest) (<-chan tts.Frame, <-chan error) {
	c.calls++
	return c.inner.Synthesize(ctx, req)
}

func TestPolicySkipsFallbackForInputErrors(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.InputError{Reason: "text is empty"}),
	}}
	fallback := &countingSynth{inner: tts.NewMockSynthesizer(8000, 1)}
	policy, err := NewPolicy(engine, fastFallbackConfig("mock", 0), fallback, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	_, err = policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1"}, &collectSink{})
	if err == nil {
		t.Fatal("expected input error to surface")
	}
	if tts.ErrorClass(err) != "input" {
		t.Fatalf("expected input class, got %q", tts.ErrorClass(err))
	}
	if fallback.calls != 0 {
		t.Fatal("fallback must not run for unusable input")
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(ctx context.Context, req tts.SpeakRequest) (<-chan tts.Frame, <-chan error) {
	frames := make(chan tts.Frame)
	errs := make(chan error, 1)
	close(frames)
	errs <- errors.New("no voice data")
	close(errs)
	return frames, errs
}

func TestPolicyReportsEngineClassWhenFallbackFails(t *testing.T) {
	engine := &scriptedEngine{script: []func(context.Context, tts.SpeakRequest, tts.FrameSink) error{
		failWith(&tts.ConnectError{Err: errors.New("refused")}),
	}}
	policy, err := NewPolicy(engine, fastFallbackConfig("exec", 0), failingSynth{}, newLogger())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	_, err = policy.Run(context.Background(), tts.SpeakRequest{SessionID: "s1", Text: "x"}, &collectSink{})
	if err == nil {
		t.Fatal("expected combined failure")
	}
	if tts.ErrorClass(err) != "connect" {
		t.Fatalf("expected engine class to win, got %q", tts.ErrorClass(err))
	}
}
