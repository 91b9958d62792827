package delivery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

// timedSource advances the clock before handing out each chunk.
type timedSource struct {
	clk    *fakeClock
	chunks []timedChunk
	err    error
	i      int
}

type timedChunk struct {
	after time.Duration
	text  string
}

func (s *timedSource) Next(ctx context.Context) (string, error) {
	if s.i >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	s.clk.t = s.clk.t.Add(c.after)
	return c.text, nil
}

type flushRecord struct {
	text string
	meta FlushMeta
}

type recordingSink struct {
	flushes []flushRecord
	fail    bool
}

func (s *recordingSink) Flush(ctx context.Context, text string, meta FlushMeta) error {
	s.flushes = append(s.flushes, flushRecord{text: text, meta: meta})
	if s.fail {
		return errors.New("message is not modified")
	}
	return nil
}

func newTestThrottler() (*Throttler, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	th := NewThrottler(5, 2*time.Second)
	th.now = clk.now
	return th, clk
}

func TestConsume_FlushSchedule(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{
		{0, "He"},
		{100 * time.Millisecond, "llo"},             // reaches 5 runes -> first flush
		{500 * time.Millisecond, " wor"},            // 0.5s since flush, nothing
		{1000 * time.Millisecond, "ld"},             // 1.5s, nothing
		{600 * time.Millisecond, "!"},               // 2.1s -> regular flush
		{100 * time.Millisecond, " more text here"}, // 0.1s, nothing
	}}
	sink := &recordingSink{}

	text, err := th.Consume(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello world! more text here" {
		t.Fatalf("unexpected text %q", text)
	}

	if len(sink.flushes) != 3 {
		t.Fatalf("expected 3 flushes, got %d: %+v", len(sink.flushes), sink.flushes)
	}
	if sink.flushes[0].text != "Hello" || sink.flushes[0].meta.Phase != PhaseCollecting {
		t.Fatalf("unexpected first flush %+v", sink.flushes[0])
	}
	if sink.flushes[1].text != "Hello world!" || sink.flushes[1].meta.Phase != PhaseRegular {
		t.Fatalf("unexpected regular flush %+v", sink.flushes[1])
	}
	final := sink.flushes[2]
	if !final.meta.Final || final.text != text || final.meta.Phase != PhaseCompleted || final.meta.Seq != 3 {
		t.Fatalf("unexpected final flush %+v", final)
	}
}

func TestConsume_ThresholdCountsRunes(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{{0, "你好世界"}, {0, "！再见"}}}
	sink := &recordingSink{}

	if _, err := th.Consume(context.Background(), src, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.flushes[0].text != "你好世界！" {
		t.Fatalf("first flush should happen at exactly 5 runes, got %q", sink.flushes[0].text)
	}
}

func TestConsume_ShortStreamOnlyFinalFlush(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{{0, "Ok"}}}
	sink := &recordingSink{}

	text, _ := th.Consume(context.Background(), src, sink)
	if len(sink.flushes) != 1 || !sink.flushes[0].meta.Final || sink.flushes[0].text != "Ok" || text != "Ok" {
		t.Fatalf("expected a single final flush, got %+v", sink.flushes)
	}
}

func TestConsume_FinalFlushEvenIfIntervalNotElapsed(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{{0, "Hello"}, {10 * time.Millisecond, " there"}}}
	sink := &recordingSink{}

	_, _ = th.Consume(context.Background(), src, sink)
	if len(sink.flushes) != 2 {
		t.Fatalf("expected first + final flush, got %d", len(sink.flushes))
	}
	if sink.flushes[1].text != "Hello there" || !sink.flushes[1].meta.Final {
		t.Fatalf("unexpected final flush %+v", sink.flushes[1])
	}
}

func TestConsume_SinkFailuresAreSwallowed(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{{0, "Hello"}, {3 * time.Second, " world"}}}
	sink := &recordingSink{fail: true}

	text, err := th.Consume(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("sink failure must not abort: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("generation must continue after sink failure, got %q", text)
	}
	if len(sink.flushes) != 3 {
		t.Fatalf("expected 3 flush attempts, got %d", len(sink.flushes))
	}
}

func TestConsume_SourceErrorStillFlushesFinal(t *testing.T) {
	th, clk := newTestThrottler()
	src := &timedSource{clk: clk, chunks: []timedChunk{{0, "Hel"}}, err: context.Canceled}
	sink := &recordingSink{}

	text, err := th.Consume(context.Background(), src, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected source error, got %v", err)
	}
	if text != "Hel" || len(sink.flushes) != 1 || !sink.flushes[0].meta.Final {
		t.Fatalf("expected one final flush of partial text, got %+v", sink.flushes)
	}
}
