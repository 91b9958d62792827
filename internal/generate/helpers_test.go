package generate

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suPer8Hu/ai-stream/internal/ai"
)

// unit scales the second-based scenarios down so tests stay fast.
const unit = 20 * time.Millisecond

type step struct {
	delay time.Duration
	text  string
}

// scriptedProvider emits steps, each after its delay, then either returns
// err or hangs until closed.
type scriptedProvider struct {
	steps []step
	err   error
	hang  bool

	calls  atomic.Int32
	closed atomic.Int32

	mu   sync.Mutex
	last ai.ChatRequest
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req ai.ChatRequest) ai.Stream {
	p.calls.Add(1)
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()

	return ai.NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		defer func() {
			if ctx.Err() != nil {
				p.closed.Add(1)
			}
		}()
		for _, s := range p.steps {
			t := time.NewTimer(s.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			if !emit(s.text) {
				return ctx.Err()
			}
		}
		if p.hang {
			<-ctx.Done()
			return ctx.Err()
		}
		return p.err
	})
}

func (p *scriptedProvider) lastRequest() ai.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// waitClosed polls until the provider saw its context cancelled.
func (p *scriptedProvider) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.closed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("provider stream was not closed")
		}
		time.Sleep(time.Millisecond)
	}
}

type recordingObserver struct {
	chunks int
	ends   int
	reason StopReason
}

func (o *recordingObserver) ObserveChunk(string, time.Duration) { o.chunks++ }

func (o *recordingObserver) ObserveEnd(_ time.Duration, reason StopReason, _ int) {
	o.ends++
	o.reason = reason
}

type recordingMetrics struct {
	mu         sync.Mutex
	issued     []string
	failed     []string
	meaningful []string
}

func (m *recordingMetrics) CallIssued(provider, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, provider)
}

func (m *recordingMetrics) CallFailed(provider, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, provider+":"+kind)
}

func (m *recordingMetrics) FirstMeaningful(provider, model string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meaningful = append(m.meaningful, provider)
}

type nextFunc interface {
	Next(ctx context.Context) (string, error)
}

func collect(t *testing.T, s nextFunc) (string, error) {
	t.Helper()
	var b strings.Builder
	for {
		c, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c)
	}
}

func testRequest() ai.ChatRequest {
	return ai.ChatRequest{Model: "test-model", Messages: []ai.Message{{Role: ai.RoleUser, Content: "hi"}}}
}

// newTestOrchestrator registers providers under keys a, b, c... in order
// and builds a single "default" chain out of them.
func newTestOrchestrator(cfg Config, m Metrics, ttft time.Duration, providers ...*scriptedProvider) *Orchestrator {
	reg := ai.NewRegistry()
	keys := make([]string, 0, len(providers))
	for i, p := range providers {
		key := string(rune('a' + i))
		reg.Register(ai.CallProfile{
			Key:               key,
			ProviderName:      "fake-" + key,
			Provider:          p,
			Model:             "model-" + key,
			FirstTokenTimeout: ttft,
			Label:             "provider " + key,
		})
		keys = append(keys, key)
	}
	table := ai.NewStrategyTable(reg, map[string][]string{"default": keys}, "default")
	return NewOrchestrator(table, cfg, m)
}

func scaledConfig() Config {
	return Config{
		InterTokenTimeout: 3 * unit,
		TotalBudget:       20 * unit,
		MaxAttempts:       3,
		FallbackText:      "fallback sentence",
	}
}
