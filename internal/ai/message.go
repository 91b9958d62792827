package ai

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one provider call. Timeout bounds the wait for the
// response headers; the body is streamed under ctx alone.
type ChatRequest struct {
	Messages []Message
	Model    string
	Timeout  time.Duration
}
