package requests

// CreateConversationRequest is the body of POST /v1/conversations/create.
type CreateConversationRequest struct {
	Title       *string        `json:"title" binding:"omitempty,max=200"`
	Description *string        `json:"description" binding:"omitempty,max=2000"`
	Context     map[string]any `json:"context"`
}

// UpdateConversationRequest is the body of PUT /v1/conversations/:id.
type UpdateConversationRequest struct {
	Title       *string        `json:"title" binding:"omitempty,max=200"`
	Description *string        `json:"description" binding:"omitempty,max=2000"`
	Context     map[string]any `json:"context"`
	IsActive    *bool          `json:"isActive"`
}

type ListConversationsQuery struct {
	Page            int  `form:"page" binding:"omitempty,min=1"`
	Limit           int  `form:"limit" binding:"omitempty,min=1"`
	IncludeInactive bool `form:"includeInactive"`
}

type CreateMessageRequest struct {
	Content         string  `json:"content" binding:"required,max=10000"`
	Type            string  `json:"type" binding:"omitempty,oneof=text image video audio document system"`
	ParentMessageID *string `json:"parentMessageId" binding:"omitempty,max=64"`
}

type UpdateMessageRequest struct {
	Content string `json:"content" binding:"required,max=10000"`
}

type ListMessagesQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
	Before string `form:"before" binding:"omitempty,max=64"`
}

type SearchMessagesQuery struct {
	Q     string `form:"q" binding:"required,max=200"`
	Limit int    `form:"limit" binding:"omitempty,min=1"`
}

// AIMessageRequest is the body of POST /v1/conversations/:id/messages/ai.
type AIMessageRequest struct {
	Content string `json:"content" binding:"required,max=10000"`
	Stream  bool   `json:"stream"`
}

type RateLimitStatusQuery struct {
	Role string `form:"role" binding:"omitempty,oneof=actor producer casting_director admin"`
}
