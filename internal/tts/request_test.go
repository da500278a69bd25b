package tts

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildPayload(t *testing.T) {
	p, err := buildSpeechPayload("Hello there.", DefaultVoiceConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := p.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"model":"tts-1","input":"Hello there.","voice":"af_heart","response_format":"pcm","speed":1,"stream":true}`
	if string(data) != want {
		t.Fatalf("payload mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestBuildPayloadRejectsEmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := buildSpeechPayload(text, DefaultVoiceConfig())
		var ierr *InputError
		if !errors.As(err, &ierr) {
			t.Fatalf("expected InputError for %q, got %v", text, err)
		}
	}
}

func TestBuildPayloadDeterministic(t *testing.T) {
	cfg := DefaultVoiceConfig()
	cfg.Voice = "af_bella"
	cfg.Speed = 1.25
	first, err := buildSpeechPayload("same text", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := buildSpeechPayload("same text", cfg)
	a, _ := first.encode()
	b, _ := second.encode()
	if !bytes.Equal(a, b) {
		t.Fatalf("payloads differ:\n%s\n%s", a, b)
	}
}

func TestBuildPayloadCompressedFormat(t *testing.T) {
	cfg := DefaultVoiceConfig()
	cfg.Encoding = EncodingOpus
	p, err := buildSpeechPayload("hi", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ResponseFormat != "opus" {
		t.Fatalf("expected opus response format, got %s", p.ResponseFormat)
	}
	if !p.Stream {
		t.Fatal("expected stream=true")
	}
}
