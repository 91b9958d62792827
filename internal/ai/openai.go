package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion API
// (DeepSeek, Grok, OpenAI itself). Name is only used in error messages.
type OpenAIProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type openAIChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func NewOpenAIProvider(name, baseURL, apiKey string) *OpenAIProvider {
	if baseURL == "" {
		switch name {
		case "deepseek":
			baseURL = "https://api.deepseek.com"
		case "grok":
			baseURL = "https://api.x.ai/v1"
		default:
			baseURL = "https://api.openai.com/v1"
		}
	}
	return &OpenAIProvider{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

func (p *OpenAIProvider) newRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("%s: http client is nil", p.Name)
	}
	if !p.Configured() {
		return nil, fmt.Errorf("%s: api key is required", p.Name)
	}
	b, err := json.Marshal(openAIChatReq{Model: req.Model, Messages: req.Messages, Stream: true})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+p.APIKey)
	return hreq, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, req ChatRequest) Stream {
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()

		hreq, err := p.newRequest(rctx, req)
		if err != nil {
			return err
		}

		client := *p.Client
		client.Timeout = 0

		resp, err := doStreaming(&client, hreq, cancel, req.Timeout)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError(p.Name, resp)
		}
		return readCompletionDeltas(resp.Body, emit)
	})
}
