package speak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ambiware-labs/voxa/internal/audit"
	"github.com/ambiware-labs/voxa/internal/bus"
	"github.com/ambiware-labs/voxa/internal/config"
	"github.com/ambiware-labs/voxa/internal/protocol"
	"github.com/ambiware-labs/voxa/internal/tts"
)

// requestTimeout bounds one utterance end to end, including retries
// and fallback.
const requestTimeout = 45 * time.Second

// Service bridges the bus to the synthesis policy: it consumes
// SpeakRequests, streams AudioChunks back, and reports a terminal
// SpeakStatus per session.
type Service struct {
	cfg    config.SpeakConfig
	bus    *bus.Client
	policy *Policy
	audit  *audit.Store
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    *nats.Subscription
}

func NewService(parent context.Context, cfg config.SpeakConfig, busClient *bus.Client, policy *Policy, auditStore *audit.Store, log *slog.Logger) (*Service, error) {
	if busClient == nil {
		return nil, errors.New("speak service requires a bus client")
	}
	if policy == nil {
		return nil, errors.New("speak service requires a policy")
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		policy: policy,
		audit:  auditStore,
		log:    log.With(slog.String("component", "speak")),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to the request subject and begins serving.
func (s *Service) Start() error {
	subject := protocol.RequestSubject(s.cfg.SubjectPrefix)
	sub, err := s.bus.Conn().Subscribe(subject, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.log.Info("speak service listening", slog.String("subject", subject))
	return nil
}

// Close stops accepting requests and waits for in-flight sessions.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.wg.Wait()
	s.log.Info("speak service stopped")
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid() && s.bus.Healthy()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("dropping malformed speak request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()
		s.processRequest(ctx, cancel, req)
	}()
}

func (s *Service) processRequest(ctx context.Context, cancel context.CancelFunc, req protocol.SpeakRequest) {
	start := time.Now()
	requestID := uuid.NewString()
	log := s.log.With(
		slog.String("session_id", req.SessionID),
		slog.String("request_id", requestID))

	cancelSubject := protocol.CancelSubject(s.cfg.SubjectPrefix, req.SessionID)
	cancelSub, err := s.bus.Conn().Subscribe(cancelSubject, func(*nats.Msg) {
		log.Info("cancel received")
		cancel()
	})
	if err != nil {
		log.Warn("cancel subscription failed", slogError(err))
	} else {
		defer cancelSub.Unsubscribe()
	}

	sink := &busSink{
		conn:     s.bus.Conn(),
		subject:  protocol.AudioSubject(s.cfg.SubjectPrefix, req.SessionID),
		maxBytes: s.cfg.PublishChunkBytes,
	}

	outcome, err := s.policy.Run(ctx, tts.SpeakRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Speed:     req.Speed,
		Model:     req.Model,
	}, sink)

	if finErr := sink.finish(req.SessionID); finErr != nil {
		log.Warn("final chunk publish failed", slogError(finErr))
	}

	status := protocol.SpeakStatus{
		SessionID:  req.SessionID,
		Completed:  err == nil,
		Source:     outcome.Source,
		Frames:     outcome.Frames,
		TTFBMillis: outcome.TTFB.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	label := "completed"
	if err != nil {
		status.Error = err.Error()
		status.ErrorClass = tts.ErrorClass(err)
		label = "failed"
		if errors.Is(err, context.Canceled) {
			label = "canceled"
		}
		log.Warn("speak request failed",
			slog.String("class", status.ErrorClass),
			slog.String("source", outcome.Source),
			slog.Int("frames", outcome.Frames),
			slogError(err))
	} else {
		log.Info("speak request completed",
			slog.String("source", outcome.Source),
			slog.Int("frames", outcome.Frames),
			slog.Int64("bytes", outcome.Bytes),
			slog.Duration("ttfb", outcome.TTFB))
	}
	s.publishStatus(req, status, log)
	s.record(requestID, req, outcome, label, status.ErrorClass, time.Since(start), log)
}

func (s *Service) publishStatus(req protocol.SpeakRequest, status protocol.SpeakStatus, log *slog.Logger) {
	subject := req.ReplyTo
	if subject == "" {
		subject = protocol.DoneSubject(s.cfg.SubjectPrefix, req.SessionID)
	}
	data, err := json.Marshal(status)
	if err != nil {
		log.Warn("status marshal failed", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		log.Warn("status publish failed", slogError(err))
	}
}

func (s *Service) record(requestID string, req protocol.SpeakRequest, outcome Outcome, label, errorClass string, elapsed time.Duration, log *slog.Logger) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := audit.Record{
		RequestID:  requestID,
		SessionID:  req.SessionID,
		Voice:      req.Voice,
		Model:      req.Model,
		Speed:      req.Speed,
		Chars:      utf8.RuneCountInString(req.Text),
		Outcome:    label,
		Source:     outcome.Source,
		ErrorClass: errorClass,
		TTFBMillis: outcome.TTFB.Milliseconds(),
		Frames:     outcome.Frames,
		Bytes:      outcome.Bytes,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		log.Warn("audit append failed", slogError(err))
	}
}

// busSink publishes frames as AudioChunks, splitting any frame larger
// than the configured publish size. Chunk sequence numbers are the wire
// order, which diverges from frame sequence only when a split happens.
type busSink struct {
	conn     *nats.Conn
	subject  string
	maxBytes int

	seq      int
	rate     int
	channels int
}

func (b *busSink) Accept(ctx context.Context, frame tts.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.rate = frame.SampleRate
	b.channels = frame.Channels
	pcm := frame.PCM
	for {
		n := len(pcm)
		if b.maxBytes > 0 && n > b.maxBytes {
			n = b.maxBytes
		}
		if err := b.publish(protocol.AudioChunk{
			SessionID:  frame.SessionID,
			Sequence:   b.seq,
			SampleRate: frame.SampleRate,
			Channels:   frame.Channels,
			PCM:        pcm[:n],
		}); err != nil {
			return err
		}
		b.seq++
		pcm = pcm[n:]
		if len(pcm) == 0 {
			return nil
		}
	}
}

// finish marks end of stream with an empty final chunk so edge players
// can stop draining without watching the status subject.
func (b *busSink) finish(sessionID string) error {
	return b.publish(protocol.AudioChunk{
		SessionID:  sessionID,
		Sequence:   b.seq,
		SampleRate: b.rate,
		Channels:   b.channels,
		Final:      true,
	})
}

func (b *busSink) publish(chunk protocol.AudioChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
