package chat

import (
	"context"
	"log"
	"time"

	"github.com/suPer8Hu/ai-stream/internal/ai"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
	"github.com/suPer8Hu/ai-stream/internal/gate"
	"github.com/suPer8Hu/ai-stream/internal/generate"
)

// Inbound is one user message ready for generation. History must not
// include UserInput.
type Inbound struct {
	UserID      string
	SentAt      time.Time
	Context     generate.RoleContext
	History     []ai.Message
	UserInput   string
	QualityMode string
}

type Status string

const (
	StatusAnswered Status = "answered"
	// StatusIgnored: sent inside the user's current or previous window.
	StatusIgnored Status = "ignored"
	// StatusBusy: another generation for the same user is running.
	StatusBusy Status = "busy"
)

type Outcome struct {
	Status    Status
	Text      string
	Result    generate.Result
	MessageID uint64
}

// ResponseStats records end-to-end response outcomes.
type ResponseStats interface {
	ResponseSucceeded(total time.Duration)
	ResponseFailed(errorType string)
}

type nopStats struct{}

func (nopStats) ResponseSucceeded(time.Duration) {}
func (nopStats) ResponseFailed(string) {}

// Pipeline runs gate, orchestrator and throttler for one message.
type Pipeline struct {
	gate        *gate.Gate
	orch        *generate.Orchestrator
	throttler   *delivery.Throttler
	stats       ResponseStats
	placeholder string
}

func NewPipeline(g *gate.Gate, orch *generate.Orchestrator, th *delivery.Throttler, stats ResponseStats, placeholder string) *Pipeline {
	if stats == nil {
		stats = nopStats{}
	}
	return &Pipeline{gate: g, orch: orch, throttler: th, stats: stats, placeholder: placeholder}
}

// Handle answers in through sink. Stale or concurrent messages are dropped,
// never queued. The only errors returned are ai.ErrNoProviders and the
// caller's context error.
func (p *Pipeline) Handle(ctx context.Context, in Inbound, sink delivery.Sink) (Outcome, error) {
	if p.gate.ShouldIgnore(in.UserID, in.SentAt) {
		return Outcome{Status: StatusIgnored}, nil
	}
	if !p.gate.Start(in.UserID) {
		return Outcome{Status: StatusBusy}, nil
	}
	defer p.gate.Finish(in.UserID)

	start := time.Now()
	if p.placeholder != "" {
		if err := sink.Flush(ctx, p.placeholder, delivery.FlushMeta{}); err != nil {
			log.Printf("[Pipeline] placeholder flush failed user=%s err=%v", in.UserID, err)
		}
	}

	gen, err := p.orch.Generate(ctx, generate.Request{
		Context:     in.Context,
		History:     in.History,
		UserInput:   in.UserInput,
		QualityMode: in.QualityMode,
	})
	if err != nil {
		p.stats.ResponseFailed("configuration")
		log.Printf("[Pipeline] generate failed user=%s mode=%s err=%v", in.UserID, in.QualityMode, err)
		return Outcome{}, err
	}
	defer gen.Close()

	text, err := p.throttler.Consume(ctx, gen, sink)
	res := gen.Result()
	out := Outcome{Status: StatusAnswered, Text: text, Result: res}
	if err != nil {
		p.stats.ResponseFailed("canceled")
		return out, err
	}

	if res.Fallback {
		p.stats.ResponseFailed("all_attempts_exhausted")
	} else {
		p.stats.ResponseSucceeded(time.Since(start))
	}
	log.Printf("[Pipeline] user=%s provider=%s attempts=%d stop=%s fallback=%v runes=%d cost=%s",
		in.UserID, res.Provider, len(res.Attempts), res.Stop, res.Fallback, len([]rune(text)), time.Since(start))
	return out, nil
}
