package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ambiware-labs/voxa/internal/audio"
	"github.com/ambiware-labs/voxa/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		text        string
		voice       string
		speed       float64
		model       string
		baseURL     string
		apiKey      string
		sampleRate  int
		channels    int
		encoding    string
		output      string
		timeout     time.Duration
		showVersion bool
	)

	flag.StringVar(&text, "text", "", "Text to synthesize (reads stdin when empty)")
	flag.StringVar(&voice, "voice", "", "Voice name")
	flag.Float64Var(&speed, "speed", 0, "Playback speed multiplier")
	flag.StringVar(&model, "model", "", "Engine model")
	flag.StringVar(&baseURL, "base-url", "", "Engine base URL")
	flag.StringVar(&apiKey, "api-key", "", "Engine API key")
	flag.IntVar(&sampleRate, "rate", 0, "Sample rate in Hz")
	flag.IntVar(&channels, "channels", 0, "Channel count")
	flag.StringVar(&encoding, "encoding", "pcm16", "Audio encoding: pcm16, opus or mp3")
	flag.StringVar(&output, "o", "say.wav", "Output file")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "Overall synthesis timeout")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			os.Exit(1)
		}
		text = string(data)
	}

	client, err := tts.New(tts.VoiceConfig{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		Voice:      voice,
		Speed:      speed,
		SampleRate: sampleRate,
		Channels:   channels,
		Encoding:   tts.Encoding(encoding),
	}, tts.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	var payload bytes.Buffer
	var frameCount int
	var format tts.Frame

	frames, errs := client.Synthesize(ctx, tts.SpeakRequest{Text: text})
	for frame := range frames {
		payload.Write(frame.PCM)
		frameCount++
		format = frame
	}
	if err := <-errs; err != nil {
		fmt.Fprintf(os.Stderr, "synthesis failed (%s): %v\n", tts.ErrorClass(err), err)
		os.Exit(1)
	}

	if err := save(output, tts.Encoding(encoding), payload.Bytes(), format); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s: %d frames, %d bytes in %s\n",
		output, frameCount, payload.Len(), time.Since(start).Round(time.Millisecond))
}

// save writes the collected audio. Raw PCM is wrapped in a WAV
// container; Opus is decoded first when the target is a .wav file;
// anything else is written through untouched.
func save(path string, encoding tts.Encoding, data []byte, format tts.Frame) error {
	wantWAV := strings.HasSuffix(strings.ToLower(path), ".wav")

	switch {
	case encoding == tts.EncodingPCM16:
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if !wantWAV {
			_, err := file.Write(data)
			return err
		}
		return audio.WritePCM16(file, data, format.SampleRate, format.Channels)

	case encoding == tts.EncodingOpus && wantWAV:
		var pcm bytes.Buffer
		if _, err := audio.DecodeOggOpus(bytes.NewReader(data), &pcm); err != nil {
			return fmt.Errorf("decode opus stream: %w", err)
		}
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return audio.WritePCM16(file, pcm.Bytes(), audio.OpusSampleRate, 1)

	default:
		return os.WriteFile(path, data, 0o644)
	}
}
