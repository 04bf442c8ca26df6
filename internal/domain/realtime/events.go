package realtime

import "strings"

// Client to server events.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageSendAI     = "message:send:ai"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageRead       = "message:read"
	EventMessageDelete     = "message:delete"
	EventMessageEdit       = "message:edit"
)

// Server to client events.
const (
	EventMessageNew          = "message:new"
	EventMessageEdited       = "message:edited"
	EventMessageDeleted      = "message:deleted"
	EventTypingUpdate        = "typing:update"
	EventAITyping            = "ai:typing"
	EventAIStream            = "ai:stream"
	EventConversationHistory = "conversation:history"
	EventPresenceUpdate      = "presence:update"
	EventError               = "error"
)

const (
	roomConversation = "conversation:"
	roomUser         = "user:"
	roomRole         = "role:"
)

func ConversationRoom(conversationID string) string { return roomConversation + conversationID }
func UserRoom(userID string) string                 { return roomUser + userID }
func RoleRoom(role string) string                   { return roomRole + role }

// ConversationFromRoom extracts the conversation id of a conversation room.
func ConversationFromRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, roomConversation) {
		return "", false
	}
	id := strings.TrimPrefix(room, roomConversation)
	return id, id != ""
}

// Broadcaster emits server events to every connection in a room.
type Broadcaster interface {
	EmitToRoom(room, event string, payload any)
}

// NopBroadcaster drops every emission.
type NopBroadcaster struct{}

func (NopBroadcaster) EmitToRoom(string, string, any) {}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type AITypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type AIStreamPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Done           bool   `json:"done"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type MessageRefPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
