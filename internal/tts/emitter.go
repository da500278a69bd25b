package tts

import (
	"context"
	"errors"
	"time"
)

// emitter pushes frames into a sink under an acceptance deadline.
// Real-time audio cannot queue without bound: a sink that stalls past
// the deadline fails the stream instead of buffering it.
type emitter struct {
	sink FrameSink
	wait time.Duration
}

func newEmitter(sink FrameSink, wait time.Duration) *emitter {
	return &emitter{sink: sink, wait: wait}
}

func (e *emitter) emit(ctx context.Context, frame Frame) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.wait)
	defer cancel()
	err := e.sink.Accept(waitCtx, frame)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackpressureTimeout{Sequence: frame.Sequence, Limit: e.wait}
	}
	return err
}

// chanSink adapts a frame channel to the FrameSink contract.
type chanSink struct {
	ch chan<- Frame
}

func (s chanSink) Accept(ctx context.Context, frame Frame) error {
	select {
	case s.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
