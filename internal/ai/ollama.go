package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Client  *http.Client
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

// NewOllamaProvider leaves the provider unconfigured when baseURL is empty,
// so chains skip it on hosts without a local Ollama.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Configured reports whether a base URL is set. Ollama needs no credentials.
func (p *OllamaProvider) Configured() bool { return p.BaseURL != "" }

func (p *OllamaProvider) newRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = "llama3:latest"
	}
	msgs := make([]ollamaMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMsg{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(ollamaChatReq{Model: model, Stream: true, Messages: msgs})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	return hreq, nil
}

// StreamChat streams assistant content chunks from the NDJSON chat endpoint.
func (p *OllamaProvider) StreamChat(ctx context.Context, req ChatRequest) Stream {
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		if p.Client == nil {
			return errors.New("ollama: http client is nil")
		}
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()

		hreq, err := p.newRequest(rctx, req)
		if err != nil {
			return err
		}

		// Streaming bodies outlive the client timeout; ctx controls them.
		client := *p.Client
		client.Timeout = 0

		resp, err := doStreaming(&client, hreq, cancel, req.Timeout)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("ollama: status %d", resp.StatusCode)
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				return err
			}
			if decoded.Error != "" {
				return errors.New(decoded.Error)
			}

			if decoded.Message.Content != "" {
				if !emit(decoded.Message.Content) {
					return ctx.Err()
				}
			}

			if decoded.Done {
				return nil
			}
		}
		return sc.Err()
	})
}
