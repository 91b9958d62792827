package generate

import (
	"strings"

	"github.com/suPer8Hu/ai-stream/internal/ai"
)

// ContextSourceSnapshot marks a conversation restored from a saved
// snapshot. Its history already contains the role's examples.
const ContextSourceSnapshot = "snapshot"

// RoleContext is the persona a conversation runs under.
type RoleContext struct {
	SystemPrompt string
	Examples     []ai.Message
	Source       string
}

// Instructions are injected right before the user's input. Conversations up
// to PrimingTurns get Priming, later turns get Ongoing.
type Instructions struct {
	Priming      string
	Ongoing      string
	PrimingTurns int
}

func (in Instructions) forTurn(turn int) string {
	limit := in.PrimingTurns
	if limit <= 0 {
		limit = 3
	}
	if turn <= limit {
		return in.Priming
	}
	return in.Ongoing
}

// Turn is the 1-based index of the user's next message.
func Turn(history []ai.Message) int {
	n := 1
	for _, m := range history {
		if m.Role == ai.RoleUser {
			n++
		}
	}
	return n
}

// BuildMessages assembles the provider payload: system prompt, examples,
// history, the turn instruction and finally the user's input.
func BuildMessages(rc RoleContext, history []ai.Message, userInput string, in Instructions) []ai.Message {
	out := make([]ai.Message, 0, len(rc.Examples)+len(history)+3)
	if strings.TrimSpace(rc.SystemPrompt) != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: rc.SystemPrompt})
	}
	if rc.Source != ContextSourceSnapshot {
		out = append(out, rc.Examples...)
	}
	out = append(out, history...)
	if ins := in.forTurn(Turn(history)); strings.TrimSpace(ins) != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: ins})
	}
	out = append(out, ai.Message{Role: ai.RoleUser, Content: userInput})
	return out
}
