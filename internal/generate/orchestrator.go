package generate

import (
	"context"
	"errors"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/ai-stream/internal/ai"
)

const DefaultFallbackText = "Sorry, I couldn't come up with a reply just now. Please try again."

type Config struct {
	InterTokenTimeout time.Duration
	TotalBudget       time.Duration
	MaxAttempts       int
	FallbackText      string
	// MeaningfulChars is the output length (in runes) at which the
	// first-meaningful-output latency is sampled.
	MeaningfulChars int
	Instructions    Instructions
}

func (c Config) withDefaults() Config {
	if c.InterTokenTimeout <= 0 {
		c.InterTokenTimeout = 3 * time.Second
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 20 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.FallbackText == "" {
		c.FallbackText = DefaultFallbackText
	}
	if c.MeaningfulChars <= 0 {
		c.MeaningfulChars = 5
	}
	return c
}

type Request struct {
	Context     RoleContext
	History     []ai.Message
	UserInput   string
	QualityMode string
	// MaxAttempts overrides the configured limit when positive.
	MaxAttempts int
}

type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFirstTokenTimeout Outcome = "first_token_timeout"
	OutcomeEmptyResponse     Outcome = "empty_response"
	OutcomeOtherError        Outcome = "other_error"
)

type Attempt struct {
	Index    int
	Provider string
	Model    string
	Outcome  Outcome
	Tokens   int
	Duration time.Duration
	Err      string
}

// Result describes a finished generation. It is complete once Next has
// returned io.EOF or an error.
type Result struct {
	Provider        string
	Model           string
	Attempts        []Attempt
	Stop            StopReason
	Fallback        bool
	FirstMeaningful time.Duration
}

type Orchestrator struct {
	strategies *ai.StrategyTable
	cfg        Config
	metrics    Metrics
}

func NewOrchestrator(strategies *ai.StrategyTable, cfg Config, m Metrics) *Orchestrator {
	if m == nil {
		m = nopMetrics{}
	}
	return &Orchestrator{strategies: strategies, cfg: cfg.withDefaults(), metrics: m}
}

// Generate resolves the fallback chain and returns a lazily evaluated
// generation. The only error it returns is ai.ErrNoProviders.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Generation, error) {
	chain, err := o.strategies.Select(req.QualityMode)
	if err != nil {
		return nil, err
	}
	n := o.cfg.MaxAttempts
	if req.MaxAttempts > 0 {
		n = req.MaxAttempts
	}
	if n > len(chain) {
		n = len(chain)
	}

	return &Generation{
		o:        o,
		chain:    chain[:n],
		messages: BuildMessages(req.Context, req.History, req.UserInput, o.cfg.Instructions),
	}, nil
}

// Generation walks the fallback chain. It stops at the first attempt that
// yields any output; when every attempt fails it yields the fallback text.
type Generation struct {
	o        *Orchestrator
	chain    []ai.CallProfile
	messages []ai.Message

	next   int
	cur    *GuardedStream
	att    *attemptState
	done   bool
	result Result
}

// Next returns the next fragment, io.EOF at the end, or ctx's error when
// the caller gives up.
func (g *Generation) Next(ctx context.Context) (string, error) {
	for {
		if g.done {
			return "", io.EOF
		}
		if g.cur == nil {
			if g.next >= len(g.chain) {
				g.done = true
				g.result.Fallback = true
				log.Printf("[Orchestrator] all attempts exhausted attempts=%d, sending fallback", len(g.chain))
				return g.o.cfg.FallbackText, nil
			}
			g.start(ctx)
		}

		chunk, err := g.cur.Next(ctx)
		switch {
		case err == nil:
			if g.att.tokens == 1 {
				g.result.Provider = g.att.profile.Label
				g.result.Model = g.att.profile.Model
			}
			return chunk, nil

		case errors.Is(err, io.EOF) && g.cur.Tokens() > 0:
			g.finish(OutcomeSuccess, nil)
			g.result.Stop = g.cur.Reason()
			g.cur = nil
			g.done = true
			return "", io.EOF

		case errors.Is(err, io.EOF):
			g.fail(OutcomeEmptyResponse, "empty_response", nil)

		case ctx.Err() != nil:
			g.finish(OutcomeOtherError, err)
			g.result.Stop = StopCanceled
			g.cur = nil
			g.done = true
			return "", ctx.Err()

		case errors.Is(err, ErrFirstTokenTimeout):
			g.fail(OutcomeFirstTokenTimeout, "first_token_timeout", err)

		default:
			g.fail(OutcomeOtherError, "transport", err)
		}
	}
}

// Close releases the provider stream of the running attempt, if any.
func (g *Generation) Close() error {
	if g.cur != nil {
		_ = g.cur.Close()
		g.cur = nil
	}
	g.done = true
	return nil
}

func (g *Generation) Result() Result { return g.result }

func (g *Generation) start(ctx context.Context) {
	p := g.chain[g.next]
	g.att = &attemptState{
		index:   g.next,
		profile: p,
		metrics: g.o.metrics,
		chars:   g.o.cfg.MeaningfulChars,
		result:  &g.result,
	}
	g.next++

	log.Printf("[Orchestrator] attempt=%d/%d provider=%s model=%s ttft=%s",
		g.att.index+1, len(g.chain), p.Label, p.Model, p.FirstTokenTimeout)
	g.o.metrics.CallIssued(p.ProviderName, p.Model)

	src := p.Provider.StreamChat(ctx, ai.ChatRequest{
		Messages: g.messages,
		Model:    p.Model,
		Timeout:  p.FirstTokenTimeout,
	})
	g.cur = Guard(src, GuardConfig{
		FirstTokenTimeout: p.FirstTokenTimeout,
		InterTokenTimeout: g.o.cfg.InterTokenTimeout,
		TotalBudget:       g.o.cfg.TotalBudget,
	}, g.att)
}

func (g *Generation) fail(outcome Outcome, kind string, err error) {
	p := g.att.profile
	log.Printf("[Orchestrator] attempt=%d provider=%s failed kind=%s err=%v", g.att.index+1, p.Label, kind, err)
	g.o.metrics.CallFailed(p.ProviderName, kind)
	g.finish(outcome, err)
	g.cur = nil
}

func (g *Generation) finish(outcome Outcome, err error) {
	a := Attempt{
		Index:    g.att.index,
		Provider: g.att.profile.Label,
		Model:    g.att.profile.Model,
		Outcome:  outcome,
		Tokens:   g.att.tokens,
		Duration: g.att.total,
	}
	if err != nil {
		a.Err = err.Error()
	}
	g.result.Attempts = append(g.result.Attempts, a)
}

// attemptState is the guard observer for one attempt. It samples the
// first-meaningful-output latency once enough runes have arrived.
type attemptState struct {
	index   int
	profile ai.CallProfile
	metrics Metrics
	chars   int
	result  *Result

	tokens  int
	runes   int
	last    time.Duration
	sampled bool
	total   time.Duration
}

func (a *attemptState) ObserveChunk(chunk string, sinceStart time.Duration) {
	a.tokens++
	a.runes += utf8.RuneCountInString(chunk)
	a.last = sinceStart
	if !a.sampled && a.runes >= a.chars {
		a.sample(sinceStart)
	}
}

func (a *attemptState) ObserveEnd(total time.Duration, reason StopReason, tokens int) {
	a.total = total
	// Replies shorter than the threshold are sampled when they end.
	if !a.sampled && tokens > 0 {
		a.sample(a.last)
	}
	log.Printf("[StreamGuard] provider=%s reason=%s tokens=%d total=%s", a.profile.Label, reason, tokens, total)
}

func (a *attemptState) sample(latency time.Duration) {
	a.sampled = true
	a.result.FirstMeaningful = latency
	a.metrics.FirstMeaningful(a.profile.ProviderName, a.profile.Model, latency)
}
