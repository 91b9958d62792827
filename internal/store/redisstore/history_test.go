package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/suPer8Hu/ai-stream/internal/ai"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(mr.Addr(), "", 0, ttl)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func numbered(from, to int) []ai.Message {
	var out []ai.Message
	for i := from; i <= to; i++ {
		out = append(out, ai.Message{Role: ai.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	return out
}

func TestHistoryKey(t *testing.T) {
	if got := historyKey("01ABC"); got != "session:01ABC:messages" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMessageEncoding(t *testing.T) {
	in := []ai.Message{
		{Role: ai.RoleUser, Content: "你好"},
		{Role: ai.RoleAssistant, Content: "hi \"there\"\nline"},
	}
	vals, err := encodeMessages(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := make([]string, 0, len(vals))
	for _, v := range vals {
		raw = append(raw, v.(string))
	}
	out, err := decodeMessages(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("mismatch: %+v", out)
	}

	if _, err := decodeMessages([]string{"not json"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHistory_LoadMissAndTail(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "s1", 20); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	if err := s.Store(ctx, "s1", numbered(1, 10)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ttl := mr.TTL(historyKey("s1")); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	msgs, ok, err := s.Load(ctx, "s1", 3)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(msgs) != 3 || msgs[0].Content != "m8" || msgs[2].Content != "m10" {
		t.Fatalf("expected the last 3 oldest first, got %+v", msgs)
	}
}

func TestHistory_StoreTrimsAndSkipsEmpty(t *testing.T) {
	s, mr := newTestStore(t, 0)
	ctx := context.Background()

	if err := s.Store(ctx, "s1", numbered(1, maxHistory+20)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	list, err := mr.List(historyKey("s1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != maxHistory {
		t.Fatalf("expected %d cached, got %d", maxHistory, len(list))
	}
	// No TTL configured, no expiry set.
	if ttl := mr.TTL(historyKey("s1")); ttl != 0 {
		t.Fatalf("expected no ttl, got %s", ttl)
	}

	if err := s.Store(ctx, "s2", nil); err != nil {
		t.Fatalf("Store empty: %v", err)
	}
	if mr.Exists(historyKey("s2")) {
		t.Fatalf("empty history must stay uncached")
	}
}

func TestHistory_AppendOnlyWhenCached(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	if err := s.Append(ctx, "cold", numbered(1, 2)...); err != nil {
		t.Fatalf("Append cold: %v", err)
	}
	if mr.Exists(historyKey("cold")) {
		t.Fatalf("append must not create a partial history")
	}

	if err := s.Store(ctx, "warm", numbered(1, maxHistory)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Append(ctx, "warm", numbered(maxHistory+1, maxHistory+2)...); err != nil {
		t.Fatalf("Append warm: %v", err)
	}
	msgs, ok, err := s.Load(ctx, "warm", maxHistory+10)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(msgs) != maxHistory {
		t.Fatalf("expected trim to %d, got %d", maxHistory, len(msgs))
	}
	if msgs[0].Content != "m3" || msgs[len(msgs)-1].Content != fmt.Sprintf("m%d", maxHistory+2) {
		t.Fatalf("unexpected window %s..%s", msgs[0].Content, msgs[len(msgs)-1].Content)
	}
}

func TestHistory_Invalidate(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	if err := s.Store(ctx, "s1", numbered(1, 2)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Invalidate(ctx, "s1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, err := s.Load(ctx, "s1", 20); err != nil || ok {
		t.Fatalf("expected miss after invalidate, ok=%v err=%v", ok, err)
	}
}
