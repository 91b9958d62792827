package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.CallIssued("deepseek", "deepseek-chat")
	c.CallIssued("deepseek", "deepseek-chat")
	c.CallFailed("deepseek", "first_token_timeout")
	c.FirstMeaningful("grok", "grok-3", 800*time.Millisecond)
	c.ResponseSucceeded(3 * time.Second)
	c.ResponseFailed("configuration")

	if got := testutil.ToFloat64(c.callsTotal.WithLabelValues("deepseek", "deepseek-chat")); got != 2 {
		t.Fatalf("expected 2 calls, got %v", got)
	}
	if got := testutil.ToFloat64(c.callsFailedTotal.WithLabelValues("deepseek", "first_token_timeout")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.responseSuccess); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if n := testutil.CollectAndCount(c.firstMeaningful); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}
