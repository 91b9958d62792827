package generate

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/suPer8Hu/ai-stream/internal/ai"
)

// ErrFirstTokenTimeout is returned when a provider produced nothing within
// its first-token timeout. It is the only guard outcome that is retried.
var ErrFirstTokenTimeout = errors.New("first token timeout")

// StopReason tells why a guarded stream ended.
type StopReason string

const (
	StopNone              StopReason = ""
	StopCompleted         StopReason = "completed"
	StopFirstTokenTimeout StopReason = "first_token_timeout"
	StopProviderError     StopReason = "provider_error"
	StopStall             StopReason = "stall"
	StopBudget            StopReason = "budget"
	StopCanceled          StopReason = "canceled"
)

// Truncated reports whether the stream ended early but still counts as
// a successful result.
func (r StopReason) Truncated() bool {
	return r == StopStall || r == StopBudget || r == StopProviderError
}

// Observer receives the guard's side channel. ObserveEnd is called exactly
// once, whichever tier ended the stream.
type Observer interface {
	ObserveChunk(chunk string, sinceStart time.Duration)
	ObserveEnd(total time.Duration, reason StopReason, tokens int)
}

type GuardConfig struct {
	FirstTokenTimeout time.Duration
	InterTokenTimeout time.Duration
	// TotalBudget is measured from the first token.
	TotalBudget time.Duration
}

// GuardedStream wraps one provider stream with three timeout tiers:
// first token, inter-token stall and total budget.
type GuardedStream struct {
	src ai.Stream
	cfg GuardConfig
	obs Observer

	startedAt time.Time
	firstAt   time.Time
	tokens    int
	reason    StopReason
}

func Guard(src ai.Stream, cfg GuardConfig, obs Observer) *GuardedStream {
	return &GuardedStream{
		src:       src,
		cfg:       cfg,
		obs:       obs,
		startedAt: time.Now(),
	}
}

// Next returns the next fragment. After the first fragment every ending
// is reported as io.EOF; Reason tells which tier fired.
func (g *GuardedStream) Next(ctx context.Context) (string, error) {
	if g.reason != StopNone {
		return "", io.EOF
	}

	if g.tokens == 0 {
		chunk, err := g.wait(ctx, g.cfg.FirstTokenTimeout)
		switch {
		case err == nil:
			g.firstAt = time.Now()
			return g.emit(chunk), nil
		case errors.Is(err, io.EOF):
			g.stop(StopCompleted)
			return "", io.EOF
		case ctx.Err() != nil:
			g.stop(StopCanceled)
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			g.stop(StopFirstTokenTimeout)
			return "", ErrFirstTokenTimeout
		default:
			g.stop(StopProviderError)
			return "", err
		}
	}

	wait := g.cfg.InterTokenTimeout
	if g.cfg.TotalBudget > 0 {
		remaining := g.cfg.TotalBudget - time.Since(g.firstAt)
		if remaining <= 0 {
			g.stop(StopBudget)
			return "", io.EOF
		}
		if wait <= 0 || remaining < wait {
			wait = remaining
		}
	}

	chunk, err := g.wait(ctx, wait)
	switch {
	case err == nil:
		return g.emit(chunk), nil
	case errors.Is(err, io.EOF):
		g.stop(StopCompleted)
	case ctx.Err() != nil:
		g.stop(StopCanceled)
		return "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		if g.cfg.TotalBudget > 0 && time.Since(g.firstAt) >= g.cfg.TotalBudget {
			g.stop(StopBudget)
		} else {
			g.stop(StopStall)
		}
	default:
		// Once output has started, a failing provider still counts as a
		// truncated success.
		log.Printf("[StreamGuard] mid-stream error treated as end tokens=%d err=%v", g.tokens, err)
		g.stop(StopProviderError)
	}
	return "", io.EOF
}

// Reason is StopNone while the stream is live.
func (g *GuardedStream) Reason() StopReason { return g.reason }

func (g *GuardedStream) Tokens() int { return g.tokens }

// Close releases the provider stream. It is safe to call after the guard
// has already stopped.
func (g *GuardedStream) Close() error {
	if g.reason == StopNone {
		g.stop(StopCanceled)
	}
	return nil
}

func (g *GuardedStream) wait(ctx context.Context, d time.Duration) (string, error) {
	if d <= 0 {
		return g.src.Next(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return g.src.Next(wctx)
}

func (g *GuardedStream) emit(chunk string) string {
	g.tokens++
	if g.obs != nil {
		g.obs.ObserveChunk(chunk, time.Since(g.startedAt))
	}
	return chunk
}

func (g *GuardedStream) stop(reason StopReason) {
	g.reason = reason
	_ = g.src.Close()
	if g.obs != nil {
		g.obs.ObserveEnd(time.Since(g.startedAt), reason, g.tokens)
	}
}
