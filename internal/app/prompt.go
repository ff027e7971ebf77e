package app

import (
	"strings"

	"ragdesk/internal/ai"
)

const assistantRules = `You are a document assistant. Answer using the provided context from the user's own files.
Rules:
- Reply in the language of the user's last message.
- If the context does not contain the answer, say so plainly instead of guessing.
- Decline requests unrelated to the user's documents or general knowledge questions about them.
- Cite the files you used at the end of the answer as: Sources: <file name>, <file name>.`

const noContextNote = "No file-grounded context is available for this question. Say that no relevant content was found in the uploaded files before answering from general knowledge."

// BuildPrompt assembles system rules, retrieved context, compacted history
// and the new user turn. The user turn is folded into a trailing user entry
// rather than producing two user messages in a row.
func BuildPrompt(retrieval Retrieval, history []ai.ChatMessage, userText string) []ai.ChatMessage {
	var system strings.Builder
	system.WriteString(assistantRules)
	system.WriteString("\n\n")
	if retrieval.Empty() {
		system.WriteString(noContextNote)
	} else {
		system.WriteString("Context:\n")
		system.WriteString(retrieval.Context())
		system.WriteString("\n\nAvailable sources: ")
		system.WriteString(strings.Join(retrieval.Sources, ", "))
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: system.String()})
	messages = append(messages, history...)

	userText = strings.TrimSpace(userText)
	if n := len(messages); n > 1 && messages[n-1].Role == ai.RoleUser {
		messages[n-1].Content = userText
		return messages
	}
	return append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: userText})
}
