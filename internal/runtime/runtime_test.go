package runtime

import (
	"testing"
	"time"

	"github.com/ambiware-labs/voxa/internal/config"
	"github.com/ambiware-labs/voxa/internal/tts"
)

func TestEngineConfigMapping(t *testing.T) {
	cfg := config.Default().Engine
	got := engineConfig(cfg)

	if got.BaseURL != cfg.BaseURL || got.APIKey != cfg.APIKey {
		t.Fatalf("endpoint fields not mapped: %+v", got)
	}
	if got.Voice != "af_heart" || got.Model != "tts-1" || got.Speed != 1.0 {
		t.Fatalf("voice fields not mapped: %+v", got)
	}
	if got.Encoding != tts.EncodingPCM16 {
		t.Fatalf("expected pcm16 encoding, got %q", got.Encoding)
	}
	if got.FrameDuration != 100*time.Millisecond {
		t.Fatalf("expected 100ms frames, got %s", got.FrameDuration)
	}
	if got.FirstByteTimeout != 2*time.Second || got.ChunkTimeout != 5*time.Second || got.SinkTimeout != time.Second {
		t.Fatalf("timeouts not mapped: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("mapped default config should validate: %v", err)
	}
}

func TestBuildFallback(t *testing.T) {
	cfg := config.Default()

	cfg.Fallback.Mode = "none"
	synth, err := buildFallback(cfg)
	if err != nil || synth != nil {
		t.Fatalf("mode none should build nothing, got %v/%v", synth, err)
	}

	cfg.Fallback.Mode = "mock"
	synth, err = buildFallback(cfg)
	if err != nil || synth == nil {
		t.Fatalf("mode mock should build a synthesizer, got %v/%v", synth, err)
	}

	cfg.Fallback.Mode = "exec"
	cfg.Fallback.Command = ""
	if _, err := buildFallback(cfg); err == nil {
		t.Fatal("empty exec command should fail")
	}

	cfg.Fallback.Command = "piper --model en_US"
	synth, err = buildFallback(cfg)
	if err != nil || synth == nil {
		t.Fatalf("exec fallback should build, got %v/%v", synth, err)
	}
}
