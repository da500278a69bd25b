package tts

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// frameChannelDepth bounds the playback queue handed to channel
// consumers. Roughly one second of audio at the default frame duration.
const frameChannelDepth = 8

// Client is a streaming speech engine backed by an OpenAI-compatible
// speech endpoint. Construct one per upstream at startup and share it:
// every Synthesize call runs an independent single-use session over the
// shared connection pool.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
	metrics    *engineMetrics

	mu  sync.RWMutex
	cfg VoiceConfig
}

// Option adjusts client construction.
type Option func(*Client)

// WithLogger routes session logs through the given logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient substitutes a pre-configured HTTP client, useful when
// the host process already maintains a pool.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// CallOption overrides one voice parameter for subsequent sessions.
type CallOption func(*VoiceConfig)

func WithVoice(voice string) CallOption {
	return func(cfg *VoiceConfig) { cfg.Voice = voice }
}

func WithSpeed(speed float64) CallOption {
	return func(cfg *VoiceConfig) { cfg.Speed = speed }
}

func WithModel(model string) CallOption {
	return func(cfg *VoiceConfig) { cfg.Model = model }
}

// New validates the config, fills defaults, and returns a ready client.
func New(cfg VoiceConfig, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient()
	}
	c.metrics = newEngineMetrics(c.log)
	return c, nil
}

// Synthesize streams one utterance. Frames arrive on the first channel
// in sequence order; the typed failure (if any) arrives on the second.
// Both channels close when the session ends.
func (c *Client) Synthesize(ctx context.Context, req SpeakRequest) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, frameChannelDepth)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer close(errs)
		if err := c.SynthesizeTo(ctx, req, chanSink{ch: frames}); err != nil {
			errs <- err
		}
	}()
	return frames, errs
}

// SynthesizeTo runs one session into the given sink and returns its
// typed failure directly. The engine never retries; callers own retry
// and fallback policy.
func (c *Client) SynthesizeTo(ctx context.Context, req SpeakRequest, sink FrameSink) error {
	cfg := c.snapshot(req)
	if err := cfg.Validate(); err != nil {
		return err
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	sess := newSession(id, cfg,
		newTransport(cfg, c.httpClient),
		newEmitter(sink, cfg.SinkTimeout),
		c.log, c.metrics)
	return sess.run(ctx, req.Text)
}

// UpdateOptions changes the default voice parameters for sessions
// started after the call. In-flight sessions keep the config they
// captured at start.
func (c *Client) UpdateOptions(opts ...CallOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, opt := range opts {
		opt(&c.cfg)
	}
}

// Config returns the current default voice configuration.
func (c *Client) Config() VoiceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// snapshot captures the config for one session, applying per-request
// overrides on top of the client defaults.
func (c *Client) snapshot(req SpeakRequest) VoiceConfig {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if req.Voice != "" {
		cfg.Voice = req.Voice
	}
	if req.Speed != 0 {
		cfg.Speed = req.Speed
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	return cfg
}

// Close releases pooled connections. Active sessions are unaffected;
// cancel their contexts to stop them.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
