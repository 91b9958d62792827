package ai

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// readCompletionDeltas decodes an OpenAI-style chat completion SSE body and
// emits every non-empty content delta. It returns nil on "[DONE]" or EOF.
func readCompletionDeltas(body io.Reader, emit func(string) bool) error {
	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		var decoded chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return err
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			return errors.New(decoded.Error.Message)
		}
		if len(decoded.Choices) == 0 {
			continue
		}
		delta := decoded.Choices[0].Delta.Content
		if delta != "" && !emit(delta) {
			return errStreamClosed
		}
	}
	return sc.Err()
}

var errStreamClosed = errors.New("stream closed")
