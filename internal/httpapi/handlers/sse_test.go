package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSSEWriter_NoPingAfterStop(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for i := 0; i < 200; i++ {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		c.Request = httptest.NewRequest("POST", "/chat/messages/stream", nil)

		sse, ok := newSSEWriter(c)
		if !ok {
			t.Fatalf("expected a flushing writer")
		}
		stop := sse.startHeartbeat(context.Background(), 20*time.Microsecond)
		time.Sleep(100 * time.Microsecond)
		stop()
		if err := sse.write("done", gin.H{"type": "done"}); err != nil {
			t.Fatalf("write done: %v", err)
		}

		body := rr.Body.String()
		if !strings.HasSuffix(body, "event: done\ndata: {\"type\":\"done\"}\n\n") {
			t.Fatalf("iteration %d: done must be the last event, got:\n%s", i, body)
		}
	}
}
