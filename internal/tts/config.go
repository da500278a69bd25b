package tts

import (
	"fmt"
	"net/url"
	"time"
)

// Encoding identifies the audio format requested from the engine.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm16"
	EncodingOpus  Encoding = "opus"
	EncodingMP3   Encoding = "mp3"
)

// responseFormat maps an Encoding onto the wire response_format value.
func (e Encoding) responseFormat() string {
	if e == EncodingPCM16 {
		return "pcm"
	}
	return string(e)
}

// sampleAligned reports whether payloads are raw samples that must be
// cut on sample boundaries. Compressed encodings pass through as-is.
func (e Encoding) sampleAligned() bool { return e == EncodingPCM16 }

func (e Encoding) valid() bool {
	switch e {
	case EncodingPCM16, EncodingOpus, EncodingMP3:
		return true
	}
	return false
}

// Engine defaults match a local Kokoro-style deployment.
const (
	DefaultBaseURL          = "http://localhost:8000"
	DefaultAPIKey           = "sk-kokoro"
	DefaultModel            = "tts-1"
	DefaultVoice            = "af_heart"
	DefaultSpeed            = 1.0
	DefaultSampleRate       = 24000
	DefaultChannels         = 1
	DefaultFrameDuration    = 100 * time.Millisecond
	DefaultFirstByteTimeout = 2 * time.Second
	DefaultChunkTimeout     = 5 * time.Second
	DefaultSinkTimeout      = time.Second
)

var supportedRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	24000: true,
	44100: true,
	48000: true,
}

// VoiceConfig describes how an engine connects and renders speech. A
// config is captured once per session and never mutated afterwards.
type VoiceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Speed   float64

	SampleRate int
	Channels   int
	Encoding   Encoding

	FrameDuration    time.Duration
	FirstByteTimeout time.Duration
	ChunkTimeout     time.Duration
	SinkTimeout      time.Duration
}

// DefaultVoiceConfig returns the configuration for a local engine.
func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{
		BaseURL:          DefaultBaseURL,
		APIKey:           DefaultAPIKey,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		Speed:            DefaultSpeed,
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		Encoding:         EncodingPCM16,
		FrameDuration:    DefaultFrameDuration,
		FirstByteTimeout: DefaultFirstByteTimeout,
		ChunkTimeout:     DefaultChunkTimeout,
		SinkTimeout:      DefaultSinkTimeout,
	}
}

// withDefaults fills unset fields so callers can specify only what they
// care about.
func (c VoiceConfig) withDefaults() VoiceConfig {
	d := DefaultVoiceConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.APIKey == "" {
		c.APIKey = d.APIKey
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.Speed == 0 {
		c.Speed = d.Speed
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = d.FrameDuration
	}
	if c.FirstByteTimeout == 0 {
		c.FirstByteTimeout = d.FirstByteTimeout
	}
	if c.ChunkTimeout == 0 {
		c.ChunkTimeout = d.ChunkTimeout
	}
	if c.SinkTimeout == 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	return c
}

// Validate checks every field and returns a ConfigError naming the
// first offender.
func (c VoiceConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "base_url", Reason: fmt.Sprintf("%q is not an absolute URL", c.BaseURL)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "base_url", Reason: fmt.Sprintf("scheme %q not supported", u.Scheme)}
	}
	if c.Voice == "" {
		return &ConfigError{Field: "voice", Reason: "must not be empty"}
	}
	if c.Model == "" {
		return &ConfigError{Field: "model", Reason: "must not be empty"}
	}
	if c.Speed <= 0 {
		return &ConfigError{Field: "speed", Reason: fmt.Sprintf("%v must be positive", c.Speed)}
	}
	if !supportedRates[c.SampleRate] {
		return &ConfigError{Field: "sample_rate", Reason: fmt.Sprintf("%d is not a supported rate", c.SampleRate)}
	}
	if c.Channels != 1 && c.Channels != 2 {
		return &ConfigError{Field: "channels", Reason: fmt.Sprintf("%d must be 1 or 2", c.Channels)}
	}
	if !c.Encoding.valid() {
		return &ConfigError{Field: "encoding", Reason: fmt.Sprintf("%q must be one of pcm16|opus|mp3", c.Encoding)}
	}
	if c.FrameDuration <= 0 {
		return &ConfigError{Field: "frame_duration", Reason: "must be positive"}
	}
	if c.FirstByteTimeout <= 0 {
		return &ConfigError{Field: "first_byte_timeout", Reason: "must be positive"}
	}
	if c.ChunkTimeout <= 0 {
		return &ConfigError{Field: "chunk_timeout", Reason: "must be positive"}
	}
	if c.SinkTimeout <= 0 {
		return &ConfigError{Field: "sink_timeout", Reason: "must be positive"}
	}
	return nil
}

// sampleBytes is the size of one interleaved sample across channels.
func (c VoiceConfig) sampleBytes() int { return c.Channels * 2 }

// frameBytes is the size of one whole frame of pcm16 audio.
func (c VoiceConfig) frameBytes() int {
	samples := c.SampleRate * int(c.FrameDuration/time.Millisecond) / 1000
	return samples * c.sampleBytes()
}
