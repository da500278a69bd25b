package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	speechPath       = "/v1/audio/speech"
	readBufferSize   = 8 * 1024
	errorBodyMaxSize = 8 * 1024
)

// transport issues speech requests and hands the response body back as
// a pull stream of raw chunks. One transport serves one session; the
// HTTP client behind it is shared and pooled.
type transport struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	firstByte time.Duration
	chunk     time.Duration
}

func newTransport(cfg VoiceConfig, client *http.Client) *transport {
	return &transport{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		firstByte: cfg.FirstByteTimeout,
		chunk:     cfg.ChunkTimeout,
	}
}

// newHTTPClient builds the pooled client shared by all sessions of one
// engine. No client-level timeout: streams outlive any fixed budget,
// and the per-phase watchdogs bound stalls instead.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     120 * time.Second,
		},
	}
}

// open sends the request and returns a stream positioned before the
// first audio byte. The first-byte watchdog is already armed when open
// returns; it keeps running until the first successful read.
func (t *transport) open(ctx context.Context, payload speechPayload) (*chunkStream, error) {
	body, err := payload.encode()
	if err != nil {
		return nil, fmt.Errorf("encode speech payload: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	st := &chunkStream{
		cancel:     cancel,
		firstLimit: t.firstByte,
		chunkLimit: t.chunk,
		buf:        make([]byte, readBufferSize),
	}
	st.timer = time.AfterFunc(t.firstByte, func() {
		st.timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.baseURL+speechPath, bytes.NewReader(body))
	if err != nil {
		st.timer.Stop()
		cancel()
		return nil, &ConnectError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		st.timer.Stop()
		cancel()
		if st.timedOut.Load() {
			return nil, &TimeoutError{Phase: PhaseFirstByte, Limit: t.firstByte}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		serr := decodeServerError(resp)
		st.timer.Stop()
		resp.Body.Close()
		cancel()
		return nil, serr
	}
	st.body = resp.Body
	return st, nil
}

// chunkStream yields raw body chunks one Read at a time. A watchdog
// timer cancels the request when the engine stalls: the first-byte
// limit applies until audio starts, the chunk limit between reads
// afterwards.
type chunkStream struct {
	body       io.ReadCloser
	cancel     context.CancelFunc
	timer      *time.Timer
	timedOut   atomic.Bool
	firstLimit time.Duration
	chunkLimit time.Duration
	buf        []byte
	chunks     int
	done       bool
	termErr    error
}

var errStreamClosed = errors.New("tts: stream closed")

// Next blocks until the engine delivers data, the stream ends, or a
// deadline fires. It returns io.EOF on clean end of stream and a typed
// error otherwise. The returned slice is owned by the caller.
func (s *chunkStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, s.termErr
	}
	if err := ctx.Err(); err != nil {
		s.finish(err)
		return nil, err
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.chunks++
			s.timer.Reset(s.chunkLimit)
			out := append([]byte(nil), s.buf[:n]...)
			if err != nil {
				s.finish(s.classify(ctx, err))
			}
			return out, nil
		}
		if err == nil {
			continue
		}
		s.finish(s.classify(ctx, err))
		return nil, s.termErr
	}
}

// Chunks reports how many raw chunks have been delivered so far.
func (s *chunkStream) Chunks() int { return s.chunks }

// Close aborts the stream. Safe to call at any point and more than
// once; subsequent Next calls fail immediately.
func (s *chunkStream) Close() {
	if !s.done {
		s.finish(errStreamClosed)
	}
}

func (s *chunkStream) finish(termErr error) {
	s.done = true
	s.termErr = termErr
	s.timer.Stop()
	s.cancel()
	if s.body != nil {
		s.body.Close()
	}
}

func (s *chunkStream) classify(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if s.timedOut.Load() {
		if s.chunks == 0 {
			return &TimeoutError{Phase: PhaseFirstByte, Limit: s.firstLimit}
		}
		return &TimeoutError{Phase: PhaseNextChunk, Limit: s.chunkLimit}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.chunks == 0 {
		return &ConnectError{Err: err}
	}
	return &StreamInterrupted{Chunks: s.chunks, Err: err}
}

// decodeServerError extracts a human-readable message from the error
// body. Engines respond with one of {"error": "..."},
// {"error": {"message": "..."}} or {"detail": "..."}.
func decodeServerError(resp *http.Response) *ServerError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyMaxSize))
	msg := parseErrorBody(data)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ServerError{Status: resp.StatusCode, Message: msg}
}

func parseErrorBody(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var flat struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &flat); err == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Detail != "" {
			return flat.Detail
		}
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(data))
}
