package tts

import (
	"encoding/json"
	"strings"
)

// speechPayload is the OpenAI-compatible speech request body.
type speechPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	Stream         bool    `json:"stream"`
}

// buildSpeechPayload rejects unusable text and assembles the request
// body from the captured config. Speed is always serialized so the
// engine never falls back to its own default mid-session.
func buildSpeechPayload(text string, cfg VoiceConfig) (speechPayload, error) {
	if strings.TrimSpace(text) == "" {
		return speechPayload{}, &InputError{Reason: "text must not be empty"}
	}
	return speechPayload{
		Model:          cfg.Model,
		Input:          text,
		Voice:          cfg.Voice,
		ResponseFormat: cfg.Encoding.responseFormat(),
		Speed:          cfg.Speed,
		Stream:         true,
	}, nil
}

func (p speechPayload) encode() ([]byte, error) {
	return json.Marshal(p)
}
