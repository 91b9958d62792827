package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
)

// sseWriter serializes events from the pipeline and the heartbeat.
type sseWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)
	return &sseWriter{w: c.Writer, flusher: flusher}, true
}

func (s *sseWriter) write(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// startHeartbeat pings every interval until stop is called. stop returns
// once the pinging goroutine has exited, so nothing is written after it.
func (s *sseWriter) startHeartbeat(ctx context.Context, every time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.write("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Flush sends the full text so far; clients replace, not append.
func (s *sseWriter) Flush(_ context.Context, text string, meta delivery.FlushMeta) error {
	return s.write("update", gin.H{
		"type":  "update",
		"seq":   meta.Seq,
		"phase": meta.Phase,
		"final": meta.Final,
		"text":  text,
	})
}
