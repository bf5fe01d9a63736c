package chat

import (
	"strings"

	"github.com/lavandejoey/MobileRAG/budget"
	"github.com/lavandejoey/MobileRAG/llm"
)

const systemPrompt = `You are a helpful assistant with access to the user's local documents.
Answer using the provided context when it is relevant. Cite sources by their
bracketed number, like [1]. If the context does not contain the answer, say so
and answer from general knowledge.`

// buildMessages assembles the model input from the budgeted context.
// Recent messages and evidence live in the system message; the query is
// the sole user message.
func buildMessages(query string, b budget.Budget) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)

	if b.Summary != "" {
		sys.WriteString("\n\nConversation summary:\n")
		sys.WriteString(b.Summary)
	}
	if len(b.Memories) > 0 {
		sys.WriteString("\n\nRelevant memories:\n")
		sys.WriteString(strings.Join(b.Memories, "\n"))
	}
	if len(b.Evidence) > 0 {
		sys.WriteString("\n\nRetrieved context:\n")
		sys.WriteString(strings.Join(b.Evidence, "\n"))
	}
	if len(b.RecentMessages) > 0 {
		sys.WriteString("\n\nRecent conversation:\n")
		sys.WriteString(strings.Join(b.RecentMessages, "\n"))
	}

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: query},
	}
}
