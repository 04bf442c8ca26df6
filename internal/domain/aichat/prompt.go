package aichat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
)

// BuildPrompt assembles the system prompt, the conversation context and the
// history (oldest first) into provider messages.
func BuildPrompt(systemPrompt string, conv *conversation.Conversation, history []*conversation.Message) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+1)

	system := strings.TrimSpace(systemPrompt)
	if block := contextBlock(conv); block != "" {
		if system != "" {
			system += "\n\n"
		}
		system += block
	}
	if system != "" {
		messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: system})
	}

	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := ChatRoleUser
		switch {
		case m.IsAIResponse:
			role = ChatRoleAssistant
		case m.Type == conversation.MessageTypeSystem:
			role = ChatRoleSystem
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Content})
	}
	return messages
}

func contextBlock(conv *conversation.Conversation) string {
	if conv == nil {
		return ""
	}
	var b strings.Builder
	if conv.Title != "" && conv.Title != conversation.DefaultTitle {
		fmt.Fprintf(&b, "Conversation title: %s\n", conv.Title)
	}
	if conv.Description != nil && *conv.Description != "" {
		fmt.Fprintf(&b, "Conversation description: %s\n", *conv.Description)
	}
	if len(conv.Context) > 0 {
		keys := make([]string, 0, len(conv.Context))
		for k := range conv.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Conversation context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, conv.Context[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
