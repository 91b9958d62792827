package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// doStreaming sends req and waits at most timeout for response headers.
// cancel must cancel req's context.
func doStreaming(client *http.Client, req *http.Request, cancel context.CancelFunc, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		t := time.AfterFunc(timeout, cancel)
		defer t.Stop()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// statusError reads a bounded slice of a non-2xx body into an error.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", name, msg)
}
