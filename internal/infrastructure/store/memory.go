package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/query"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// MemoryStore is a mutex-based in-memory conversation and message store used
// for local development and tests. Thread-safe via sync.RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	nextConvID    uint
	nextMsgID     uint
	conversations map[uint]*conversation.Conversation
	convIndex     map[string]uint // public id -> id
	messages      map[uint]*conversation.Message
	msgIndex      map[string]uint
	log           zerolog.Logger
}

var (
	_ conversation.ConversationRepository = (*MemoryStore)(nil)
	_ conversation.MessageRepository      = (*MemoryMessages)(nil)
)

// MemoryMessages is the message repository view over a MemoryStore.
type MemoryMessages struct {
	s *MemoryStore
}

// Messages returns the message repository sharing this store's state.
func (s *MemoryStore) Messages() *MemoryMessages {
	return &MemoryMessages{s: s}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uint]*conversation.Conversation),
		convIndex:     make(map[string]uint),
		messages:      make(map[uint]*conversation.Message),
		msgIndex:      make(map[string]uint),
		log:           log.With().Str("component", "memory-store").Logger(),
	}
}

func (s *MemoryStore) Create(ctx context.Context, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.convIndex[conv.PublicID]; exists {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict, "conversation already exists", nil, "e74aff84-2f18-44a5-a32c-a65c00f03a17")
	}
	s.nextConvID++
	conv.ID = s.nextConvID
	s.conversations[conv.ID] = cloneConversation(conv)
	s.convIndex[conv.PublicID] = conv.ID
	return nil
}

func (s *MemoryStore) FindByPublicID(ctx context.Context, publicID string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.convIndex[publicID]
	if !ok {
		return nil, conversationNotFound(ctx)
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *MemoryStore) FindByFilter(ctx context.Context, filter conversation.ConversationFilter, pagination query.Pagination) ([]*conversation.Conversation, error) {
	matches := s.matchConversations(filter)

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case !a.UpdatedAt.Equal(b.UpdatedAt):
			return a.UpdatedAt.After(b.UpdatedAt)
		default:
			return a.ID > b.ID
		}
	})

	return window(matches, pagination.Limit, pagination.Offset), nil
}

func (s *MemoryStore) Count(ctx context.Context, filter conversation.ConversationFilter) (int64, error) {
	return int64(len(s.matchConversations(filter))), nil
}

func (s *MemoryStore) Update(ctx context.Context, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[conv.ID]
	if !ok {
		return conversationNotFound(ctx)
	}
	updated := cloneConversation(conv)
	updated.MessageCount = existing.MessageCount
	updated.LastMessageAt = existing.LastMessageAt
	s.conversations[conv.ID] = updated
	return nil
}

func (s *MemoryStore) matchConversations(filter conversation.ConversationFilter) []*conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*conversation.Conversation, 0)
	for _, conv := range s.conversations {
		if filter.UserID != nil && conv.UserID != *filter.UserID {
			continue
		}
		if !filter.IncludeInactive && !conv.IsActive {
			continue
		}
		result = append(result, cloneConversation(conv))
	}
	return result
}

// ===============================================
// Messages
// ===============================================

func (r *MemoryMessages) CreateAndTouchConversation(ctx context.Context, msg *conversation.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return conversationNotFound(ctx)
	}
	r.s.nextMsgID++
	msg.ID = r.s.nextMsgID
	r.s.messages[msg.ID] = cloneMessage(msg)
	r.s.msgIndex[msg.PublicID] = msg.ID

	conv.MessageCount++
	createdAt := msg.CreatedAt
	conv.LastMessageAt = &createdAt
	conv.UpdatedAt = createdAt
	return nil
}

func (r *MemoryMessages) FindByPublicIDUnscoped(ctx context.Context, publicID string) (*conversation.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.msgIndex[publicID]
	if !ok {
		return nil, messageNotFound(ctx)
	}
	return cloneMessage(r.s.messages[id]), nil
}

func (r *MemoryMessages) FindByPublicID(ctx context.Context, publicID string) (*conversation.Message, error) {
	msg, err := r.FindByPublicIDUnscoped(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if msg.DeletedAt != nil {
		return nil, messageNotFound(ctx)
	}
	return msg, nil
}

func (r *MemoryMessages) FindNewestFirst(ctx context.Context, filter conversation.MessageFilter, limit, offset int) ([]*conversation.Message, error) {
	r.s.mu.RLock()
	var needle string
	if filter.Search != nil {
		needle = strings.ToLower(*filter.Search)
	}
	matches := make([]*conversation.Message, 0)
	for _, msg := range r.s.messages {
		if msg.ConversationID != filter.ConversationID || msg.DeletedAt != nil {
			continue
		}
		if filter.BeforeID != nil && msg.ID >= *filter.BeforeID {
			continue
		}
		if filter.Search != nil && !strings.Contains(strings.ToLower(msg.Content), needle) {
			continue
		}
		matches = append(matches, cloneMessage(msg))
	}
	r.s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID > matches[j].ID })
	return window(matches, limit, offset), nil
}

func (r *MemoryMessages) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error {
	return r.mutateVisible(ctx, id, func(msg *conversation.Message) {
		msg.Content = content
		msg.EditedAt = &editedAt
		msg.UpdatedAt = editedAt
	})
}

func (r *MemoryMessages) SoftDelete(ctx context.Context, id uint, deletedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return messageNotFound(ctx)
	}
	if msg.DeletedAt == nil {
		msg.DeletedAt = &deletedAt
	}
	return nil
}

func (r *MemoryMessages) MarkRead(ctx context.Context, id uint, readAt time.Time) error {
	return r.mutateVisible(ctx, id, func(msg *conversation.Message) {
		if msg.ReadAt == nil {
			msg.ReadAt = &readAt
		}
	})
}

func (r *MemoryMessages) Stats(ctx context.Context, conversationID uint) (*conversation.MessageStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &conversation.MessageStats{}
	for _, msg := range r.s.messages {
		if msg.ConversationID != conversationID || msg.DeletedAt != nil {
			continue
		}
		stats.Total++
		if msg.IsAIResponse {
			stats.AIMessages++
		} else {
			stats.UserMessages++
		}
		created := msg.CreatedAt
		if stats.FirstMessageAt == nil || created.Before(*stats.FirstMessageAt) {
			stats.FirstMessageAt = &created
		}
		if stats.LastMessageAt == nil || created.After(*stats.LastMessageAt) {
			stats.LastMessageAt = &created
		}
	}
	return stats, nil
}

func (r *MemoryMessages) mutateVisible(ctx context.Context, id uint, fn func(*conversation.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.messages[id]
	if !ok || msg.DeletedAt != nil {
		return messageNotFound(ctx)
	}
	fn(msg)
	return nil
}

func conversationNotFound(ctx context.Context) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Conversation not found", nil, "77c353fb-31f9-4b0f-b6fd-ccb547aebeba")
}

func messageNotFound(ctx context.Context) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "Message not found", nil, "f103122d-3d86-4921-b557-beab3b52e6e8")
}

func window[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneConversation(c *conversation.Conversation) *conversation.Conversation {
	cp := *c
	if c.Context != nil {
		cp.Context = make(map[string]any, len(c.Context))
		for k, v := range c.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

func cloneMessage(m *conversation.Message) *conversation.Message {
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
