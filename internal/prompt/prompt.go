// Package prompt flattens role-tagged chat histories into the single
// prompt string the inference executable expects.
package prompt

import (
	"strings"

	"bitnetgo/internal/models"
)

const (
	systemPrefix    = "System: "
	userPrefix      = "User: "
	assistantPrefix = "Assistant: "

	// AssistantCue ends every assembled prompt so the model continues
	// as the assistant. The stream parser also keys on it.
	AssistantCue = "Assistant:"
)

// Assemble renders messages in stored order using a fixed per-role
// template and appends the assistant cue. It is a pure function:
// identical input always yields an identical string. Consecutive
// same-role messages each keep their own prefix.
func Assemble(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			b.WriteString(systemPrefix)
		case models.RoleUser:
			b.WriteString(userPrefix)
		case models.RoleAssistant:
			b.WriteString(assistantPrefix)
		default:
			// Unknown roles are rejected at the API boundary; skip
			// rather than guess a wrapper.
			continue
		}
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	b.WriteString(AssistantCue)
	return b.String()
}
