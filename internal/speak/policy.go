package speak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ambiware-labs/voxa/internal/config"
	"github.com/ambiware-labs/voxa/internal/tts"
)

// Engine is the primary synthesis path.
type Engine interface {
	SynthesizeTo(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) error
}

// Outcome summarizes where the audio came from and how much was delivered.
type Outcome struct {
	Source string // remote, cache, exec, mock
	Frames int
	Bytes  int64
	TTFB   time.Duration
}

// Policy decides how a speak request is satisfied: cache first, then the
// remote engine with bounded retries, then the configured fallback.
// Retries and fallback only run while no audio has been delivered; once a
// frame reached the sink the request sticks with the stream it started,
// so listeners never hear an utterance restart.
type Policy struct {
	engine       Engine
	fallback     tts.Synthesizer
	fallbackName string
	cache        *phraseCache
	retries      int
	wait         time.Duration
	log          *slog.Logger
}

func NewPolicy(engine Engine, cfg config.FallbackConfig, fallback tts.Synthesizer, log *slog.Logger) (*Policy, error) {
	if engine == nil {
		return nil, errors.New("speak policy requires an engine")
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Policy{
		engine:       engine,
		fallback:     fallback,
		fallbackName: cfg.Mode,
		retries:      cfg.Retries,
		wait:         time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		log:          log.With(slog.String("component", "speak-policy")),
	}
	if p.wait <= 0 {
		p.wait = 200 * time.Millisecond
	}
	if cfg.CacheEntries > 0 {
		cache, err := newPhraseCache(cfg.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("create phrase cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Run synthesizes one utterance into sink and reports the source used.
func (p *Policy) Run(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) (Outcome, error) {
	key := phraseKey(req)
	if p.cache != nil {
		if frames, ok := p.cache.get(key); ok {
			return p.replay(ctx, req, frames, sink)
		}
	}

	counter := &countingSink{next: sink, record: p.cache != nil, started: time.Now()}
	err := p.tryRemote(ctx, req, counter)
	out := Outcome{Source: "remote", Frames: counter.frames, Bytes: counter.bytes, TTFB: counter.ttfb}
	if err == nil {
		if p.cache != nil && counter.cacheable() {
			p.cache.put(key, counter.recorded)
		}
		return out, nil
	}

	if counter.frames > 0 || p.fallback == nil || !fallbackEligible(err) {
		return out, err
	}

	p.log.Warn("engine failed before audio, using fallback",
		slog.String("session_id", req.SessionID),
		slog.String("fallback", p.fallbackName),
		slog.String("class", tts.ErrorClass(err)),
		slogError(err))
	fout, ferr := p.runFallback(ctx, req, sink)
	if ferr != nil {
		return fout, errors.Join(err, ferr)
	}
	return fout, nil
}

// replay serves a cached phrase, restamping frames for this session.
func (p *Policy) replay(ctx context.Context, req tts.SpeakRequest, frames []tts.Frame, sink tts.FrameSink) (Outcome, error) {
	out := Outcome{Source: "cache"}
	for i, frame := range frames {
		frame.SessionID = req.SessionID
		frame.Sequence = i
		if err := sink.Accept(ctx, frame); err != nil {
			return out, err
		}
		out.Frames++
		out.Bytes += int64(len(frame.PCM))
	}
	return out, nil
}

func (p *Policy) tryRemote(ctx context.Context, req tts.SpeakRequest, counter *countingSink) error {
	operation := func() (struct{}, error) {
		err := p.engine.SynthesizeTo(ctx, req, counter)
		if err == nil {
			return struct{}{}, nil
		}
		if counter.frames > 0 || !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		p.log.Warn("engine attempt failed, retrying",
			slog.String("session_id", req.SessionID),
			slog.String("class", tts.ErrorClass(err)),
			slogError(err))
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.wait
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(p.retries)+1))
	return err
}

func (p *Policy) runFallback(ctx context.Context, req tts.SpeakRequest, sink tts.FrameSink) (Outcome, error) {
	out := Outcome{Source: p.fallbackName}
	frames, errs := p.fallback.Synthesize(ctx, req)
	seq := 0
	for frame := range frames {
		frame.Sequence = seq
		if err := sink.Accept(ctx, frame); err != nil {
			return out, err
		}
		seq++
		out.Frames++
		out.Bytes += int64(len(frame.PCM))
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}

// retryable reports whether another attempt could plausibly succeed.
// Client-side mistakes and mid-stream failures are final.
func retryable(err error) bool {
	var srv *tts.ServerError
	if errors.As(err, &srv) {
		return srv.Status >= 500 || srv.Status == http.StatusTooManyRequests
	}
	var timeout *tts.TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Phase == tts.PhaseFirstByte
	}
	var connect *tts.ConnectError
	return errors.As(err, &connect)
}

// fallbackEligible excludes failures the fallback cannot fix and
// deliberate aborts.
func fallbackEligible(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var configErr *tts.ConfigError
	var inputErr *tts.InputError
	if errors.As(err, &configErr) || errors.As(err, &inputErr) {
		return false
	}
	return true
}

// countingSink forwards frames downstream while tracking delivery
// counters and, optionally, recording the audio for the phrase cache.
type countingSink struct {
	next     tts.FrameSink
	started  time.Time
	frames   int
	bytes    int64
	ttfb     time.Duration
	record   bool
	overflow bool
	recorded []tts.Frame
}

func (c *countingSink) Accept(ctx context.Context, frame tts.Frame) error {
	if err := c.next.Accept(ctx, frame); err != nil {
		return err
	}
	if c.frames == 0 {
		c.ttfb = time.Since(c.started)
	}
	c.frames++
	c.bytes += int64(len(frame.PCM))
	if c.record && !c.overflow {
		if c.bytes > maxCachedBytes {
			c.overflow = true
			c.recorded = nil
		} else {
			frame.PCM = append([]byte(nil), frame.PCM...)
			c.recorded = append(c.recorded, frame)
		}
	}
	return nil
}

func (c *countingSink) cacheable() bool {
	return c.record && !c.overflow && len(c.recorded) == c.frames
}
