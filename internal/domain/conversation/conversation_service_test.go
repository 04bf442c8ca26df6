package conversation_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/infrastructure/store"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const (
	owner    = "user-owner"
	stranger = "user-stranger"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T) *conversation.ConversationService {
	t.Helper()
	mem := store.NewMemoryStore(zerolog.Nop())
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return conversation.NewConversationService(mem, mem.Messages()).WithClock(clock.Now)
}

func createConversation(t *testing.T, svc *conversation.ConversationService) *conversation.Conversation {
	t.Helper()
	title := "Audition prep"
	conv, err := svc.CreateConversation(context.Background(), conversation.CreateConversationInput{UserID: owner, Title: &title})
	require.NoError(t, err)
	return conv
}

func createMessages(t *testing.T, svc *conversation.ConversationService, conv *conversation.Conversation, n int) []*conversation.Message {
	t.Helper()
	author := owner
	out := make([]*conversation.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := svc.CreateMessage(context.Background(), conversation.CreateMessageInput{
			ConversationID: conv.PublicID,
			AuthorID:       &author,
			Content:        fmt.Sprintf("line %d", i),
		})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestCreateConversationDefaults(t *testing.T) {
	svc := newService(t)

	conv, err := svc.CreateConversation(context.Background(), conversation.CreateConversationInput{UserID: owner})
	require.NoError(t, err)

	assert.True(t, conv.IsActive)
	assert.Equal(t, 0, conv.MessageCount)
	assert.Equal(t, conversation.DefaultTitle, conv.Title)
	assert.True(t, strings.HasPrefix(conv.PublicID, "conv_"))
}

func TestCreateMessageBumpsConversation(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msgs := createMessages(t, svc, conv, 2)

	reloaded, err := svc.GetConversation(context.Background(), conv.PublicID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.MessageCount)
	require.NotNil(t, reloaded.LastMessageAt)
	assert.True(t, reloaded.LastMessageAt.Equal(msgs[1].CreatedAt))
}

func TestCreateMessageErrors(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	ctx := context.Background()
	intruder := stranger

	_, err := svc.CreateMessage(ctx, conversation.CreateMessageInput{ConversationID: "conv_0000000000000000", AuthorID: &intruder, Content: "hi"})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound), "got %v", err)

	_, err = svc.CreateMessage(ctx, conversation.CreateMessageInput{ConversationID: conv.PublicID, AuthorID: &intruder, Content: "hi"})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden), "got %v", err)

	author := owner
	_, err = svc.CreateMessage(ctx, conversation.CreateMessageInput{ConversationID: conv.PublicID, AuthorID: &author, Content: strings.Repeat("a", conversation.MaxContentLength+1)})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation), "got %v", err)

	_, err = svc.CreateMessage(ctx, conversation.CreateMessageInput{ConversationID: conv.PublicID, AuthorID: &author, Content: "hi", Type: "hologram"})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation), "got %v", err)
}

func TestAIMessageSkipsOwnership(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)

	msg, err := svc.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID: conv.PublicID,
		Content:        "Here are three monologues for the role.",
		IsAIResponse:   true,
	})
	require.NoError(t, err)
	assert.True(t, msg.IsAIResponse)
	assert.Nil(t, msg.UserID)
}

func TestRoundTripByID(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	author := owner

	created, err := svc.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID: conv.PublicID,
		AuthorID:       &author,
		Content:        "Headshot attached",
		Type:           conversation.MessageTypeImage,
	})
	require.NoError(t, err)

	fetched, err := svc.GetMessageByID(context.Background(), created.PublicID)
	require.NoError(t, err)
	assert.Equal(t, created.Content, fetched.Content)
	assert.Equal(t, created.Type, fetched.Type)
	assert.Equal(t, created.ConversationPublicID, fetched.ConversationPublicID)
}

func TestGetConversationMessagesPagination(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msgs := createMessages(t, svc, conv, 5)
	ctx := context.Background()

	tests := []struct {
		name        string
		limit       int
		before      *string
		wantIDs     []string
		wantHasMore bool
	}{
		{
			name:        "latest page is chronological",
			limit:       2,
			wantIDs:     []string{msgs[3].PublicID, msgs[4].PublicID},
			wantHasMore: true,
		},
		{
			name:        "cursor returns strictly older",
			limit:       2,
			before:      &msgs[3].PublicID,
			wantIDs:     []string{msgs[1].PublicID, msgs[2].PublicID},
			wantHasMore: true,
		},
		{
			name:        "exact fit has no more",
			limit:       3,
			before:      &msgs[3].PublicID,
			wantIDs:     []string{msgs[0].PublicID, msgs[1].PublicID, msgs[2].PublicID},
			wantHasMore: false,
		},
		{
			name:        "limit equal to total",
			limit:       5,
			wantIDs:     []string{msgs[0].PublicID, msgs[1].PublicID, msgs[2].PublicID, msgs[3].PublicID, msgs[4].PublicID},
			wantHasMore: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.GetConversationMessages(ctx, conversation.MessagesQuery{
				ConversationID:  conv.PublicID,
				RequesterID:     owner,
				Page:            1,
				Limit:           tt.limit,
				BeforeMessageID: tt.before,
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Messages), tt.limit)
			assert.Equal(t, tt.wantHasMore, page.HasMore)

			ids := make([]string, len(page.Messages))
			for i, m := range page.Messages {
				ids[i] = m.PublicID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestGetConversationMessagesFarPageIsEmpty(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	createMessages(t, svc, conv, 3)

	page, err := svc.GetConversationMessages(context.Background(), conversation.MessagesQuery{
		ConversationID: conv.PublicID,
		RequesterID:    owner,
		Page:           math.MaxInt / 10,
		Limit:          20,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Positive(t, page.Page)
}

func TestGetConversationMessagesDeletedCursor(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msgs := createMessages(t, svc, conv, 4)
	ctx := context.Background()

	_, err := svc.DeleteMessage(ctx, msgs[2].PublicID)
	require.NoError(t, err)

	page, err := svc.GetConversationMessages(ctx, conversation.MessagesQuery{
		ConversationID:  conv.PublicID,
		RequesterID:     owner,
		Limit:           10,
		BeforeMessageID: &msgs[2].PublicID,
	})
	require.NoError(t, err)
	ids := make([]string, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.PublicID
	}
	assert.Equal(t, []string{msgs[0].PublicID, msgs[1].PublicID}, ids)
}

func TestNonOwnerCannotReadOrSearch(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	createMessages(t, svc, conv, 1)
	ctx := context.Background()

	_, err := svc.GetConversationMessages(ctx, conversation.MessagesQuery{ConversationID: conv.PublicID, RequesterID: stranger})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	_, err = svc.SearchMessages(ctx, conv.PublicID, stranger, "line", 10)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	author := owner
	ctx := context.Background()

	for _, content := range []string{"Callback for the LEAD role", "Wardrobe fitting", "lead actor confirmed"} {
		_, err := svc.CreateMessage(ctx, conversation.CreateMessageInput{ConversationID: conv.PublicID, AuthorID: &author, Content: content})
		require.NoError(t, err)
	}

	results, err := svc.SearchMessages(ctx, conv.PublicID, owner, "Lead", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "lead actor confirmed", results[0].Content)

	_, err = svc.SearchMessages(ctx, conv.PublicID, owner, "   ", 10)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
}

func TestDeleteMessageIsIdempotentAndHidden(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msgs := createMessages(t, svc, conv, 3)
	ctx := context.Background()

	first, err := svc.DeleteMessage(ctx, msgs[1].PublicID)
	require.NoError(t, err)
	require.NotNil(t, first.DeletedAt)
	assert.Equal(t, conversation.MessageStatusDeleted, first.State().Status)

	second, err := svc.DeleteMessage(ctx, msgs[1].PublicID)
	require.NoError(t, err)
	assert.True(t, second.DeletedAt.Equal(*first.DeletedAt))

	page, err := svc.GetConversationMessages(ctx, conversation.MessagesQuery{ConversationID: conv.PublicID, RequesterID: owner, Limit: 10})
	require.NoError(t, err)
	for _, m := range page.Messages {
		assert.NotEqual(t, msgs[1].PublicID, m.PublicID)
	}
	assert.Len(t, page.Messages, 2)

	_, err = svc.GetMessageByID(ctx, msgs[1].PublicID)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))

	_, err = svc.UpdateMessage(ctx, msgs[1].PublicID, "resurrect")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestUpdateMessageSetsEditedAt(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msgs := createMessages(t, svc, conv, 1)
	ctx := context.Background()

	updated, err := svc.UpdateMessageForUser(ctx, conv.PublicID, msgs[0].PublicID, owner, "edited line")
	require.NoError(t, err)
	require.NotNil(t, updated.EditedAt)
	assert.Equal(t, conversation.MessageStatusEdited, updated.State().Status)

	_, err = svc.UpdateMessageForUser(ctx, conv.PublicID, msgs[0].PublicID, stranger, "hijack")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	fetched, err := svc.GetMessageByID(ctx, msgs[0].PublicID)
	require.NoError(t, err)
	assert.Equal(t, "edited line", fetched.Content)

	_, err = svc.UpdateMessage(ctx, "msg_zzzzzzzzzzzzzzzz", "nothing")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestGetUserConversationsPaginatesAndFiltersInactive(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	var convs []*conversation.Conversation
	for i := 0; i < 3; i++ {
		convs = append(convs, createConversation(t, svc))
	}
	createMessages(t, svc, convs[0], 1)
	require.NoError(t, svc.DeleteConversation(ctx, convs[2].PublicID, owner))

	page, err := svc.GetUserConversations(ctx, owner, 1, 10, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, convs[0].PublicID, page.Conversations[0].PublicID)

	page, err = svc.GetUserConversations(ctx, owner, 2, 2, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Conversations, 1)

	page, err = svc.GetUserConversations(ctx, stranger, 1, 10, true)
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)
}

func TestParentMessageMustShareConversation(t *testing.T) {
	svc := newService(t)
	first := createConversation(t, svc)
	second := createConversation(t, svc)
	parent := createMessages(t, svc, first, 1)[0]
	author := owner

	_, err := svc.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID:  second.PublicID,
		AuthorID:        &author,
		Content:         "reply",
		ParentMessageID: &parent.PublicID,
	})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))

	reply, err := svc.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID:  first.PublicID,
		AuthorID:        &author,
		Content:         "reply",
		ParentMessageID: &parent.PublicID,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.PublicID, *reply.ParentMessageID)
}

func TestMarkMessageReadKeepsFirstTimestamp(t *testing.T) {
	svc := newService(t)
	conv := createConversation(t, svc)
	msg := createMessages(t, svc, conv, 1)[0]
	ctx := context.Background()

	first, err := svc.MarkMessageRead(ctx, conv.PublicID, msg.PublicID, owner)
	require.NoError(t, err)
	second, err := svc.MarkMessageRead(ctx, conv.PublicID, msg.PublicID, owner)
	require.NoError(t, err)
	assert.True(t, first.ReadAt.Equal(*second.ReadAt))
}
