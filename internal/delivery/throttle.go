package delivery

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"
)

type Phase string

const (
	PhaseCollecting Phase = "collecting_first_chars"
	PhaseRegular    Phase = "regular_updates"
	PhaseCompleted  Phase = "completed"
)

// FlushMeta accompanies every flush. Seq counts from 1; a zero Seq marks
// a placeholder shown before any output exists.
type FlushMeta struct {
	Seq   int
	Phase Phase
	Final bool
}

// Sink shows accumulated text to the user, typically by editing one
// message in place. Failures are logged by the caller and never retried.
type Sink interface {
	Flush(ctx context.Context, text string, meta FlushMeta) error
}

// Source is a pull-based text stream ending with io.EOF.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// StreamState is owned by a single Consume call.
type StreamState struct {
	Text      strings.Builder
	Runes     int
	Phase     Phase
	LastFlush time.Time
	Flushes   int
}

type Throttler struct {
	// Threshold is the rune count that triggers the first flush.
	Threshold int
	// Interval is the minimum time between regular flushes.
	Interval time.Duration

	now func() time.Time
}

func NewThrottler(threshold int, interval time.Duration) *Throttler {
	if threshold <= 0 {
		threshold = 5
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Throttler{Threshold: threshold, Interval: interval, now: time.Now}
}

// Consume drains src into sink: one flush as soon as Threshold runes have
// arrived, then at most one per Interval, and one final flush when src
// ends. It returns the full text and src's error, if it was not io.EOF.
func (t *Throttler) Consume(ctx context.Context, src Source, sink Sink) (string, error) {
	st := &StreamState{Phase: PhaseCollecting}

	var srcErr error
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				srcErr = err
			}
			break
		}
		for _, r := range chunk {
			st.Text.WriteRune(r)
			st.Runes++
			t.step(ctx, st, sink)
		}
	}

	st.Phase = PhaseCompleted
	t.flush(ctx, st, sink, true)
	log.Printf("[Throttler] completed runes=%d flushes=%d", st.Runes, st.Flushes)
	return st.Text.String(), srcErr
}

func (t *Throttler) step(ctx context.Context, st *StreamState, sink Sink) {
	switch st.Phase {
	case PhaseCollecting:
		if st.Runes >= t.Threshold {
			t.flush(ctx, st, sink, false)
			st.Phase = PhaseRegular
		}
	case PhaseRegular:
		if t.now().Sub(st.LastFlush) >= t.Interval {
			t.flush(ctx, st, sink, false)
		}
	}
}

func (t *Throttler) flush(ctx context.Context, st *StreamState, sink Sink, final bool) {
	st.Flushes++
	st.LastFlush = t.now()
	meta := FlushMeta{Seq: st.Flushes, Phase: st.Phase, Final: final}
	if err := sink.Flush(ctx, st.Text.String(), meta); err != nil {
		log.Printf("[Throttler] flush failed seq=%d final=%v runes=%d err=%v", meta.Seq, final, st.Runes, err)
	}
}
