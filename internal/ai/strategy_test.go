package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	configured bool
}

func (p stubProvider) StreamChat(ctx context.Context, req ChatRequest) Stream {
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		emit("hi")
		return nil
	})
}

func (p stubProvider) Configured() bool { return p.configured }

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(CallProfile{Key: "a", Provider: stubProvider{configured: true}, Model: "m-a", FirstTokenTimeout: time.Second})
	reg.Register(CallProfile{Key: "B", Provider: stubProvider{configured: true}, Model: "m-b", Label: "provider b"})
	reg.Register(CallProfile{Key: "nokey", Provider: stubProvider{configured: false}, Model: "m-c"})
	reg.Register(CallProfile{Key: "nil", Model: "m-d"})
	return reg
}

func TestSelect_OrderAndSkipsUnconfigured(t *testing.T) {
	table := NewStrategyTable(newTestRegistry(), map[string][]string{
		"fast": {"nokey", "b", "missing", "a", "nil"},
	}, "fast")

	chain, err := table.Select("fast")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(chain))
	}
	if chain[0].Key != "b" || chain[1].Key != "a" {
		t.Fatalf("unexpected order: %q, %q", chain[0].Key, chain[1].Key)
	}
	if chain[0].Label != "provider b" || chain[1].Label != "a" {
		t.Fatalf("unexpected labels: %q, %q", chain[0].Label, chain[1].Label)
	}
}

func TestSelect_UnknownModeFallsBackToDefault(t *testing.T) {
	table := NewStrategyTable(newTestRegistry(), map[string][]string{
		"default": {"a"},
		"premium": {"b"},
	}, "default")

	chain, err := table.Select("does-not-exist")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(chain) != 1 || chain[0].Key != "a" {
		t.Fatalf("expected default chain [a], got %+v", chain)
	}

	chain, err = table.Select(" PREMIUM ")
	if err != nil {
		t.Fatalf("select premium: %v", err)
	}
	if chain[0].Key != "b" {
		t.Fatalf("expected premium chain, got %q", chain[0].Key)
	}
}

func TestSelect_EmptyChainIsConfigurationError(t *testing.T) {
	table := NewStrategyTable(newTestRegistry(), map[string][]string{
		"broken": {"nokey", "nil"},
	}, "broken")

	_, err := table.Select("broken")
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}

	_, err = table.Select("anything")
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders for unknown mode, got %v", err)
	}
}

func TestSelect_ReturnsCopy(t *testing.T) {
	table := NewStrategyTable(newTestRegistry(), map[string][]string{"x": {"a", "b"}}, "x")
	chain, _ := table.Select("x")
	chain[0] = CallProfile{Key: "mutated"}

	again, _ := table.Select("x")
	if again[0].Key != "a" {
		t.Fatalf("table was mutated through returned slice")
	}
}

func TestParseChain(t *testing.T) {
	got := ParseChain(" DeepSeek , ,grok,openrouter ")
	want := []string{"deepseek", "grok", "openrouter"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
