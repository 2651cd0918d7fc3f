package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtchat/internal/model"
)

func seed(t *testing.T, s *MemoryStore, id, from, to string, ts int64) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &model.Message{
		ID:             id,
		TempID:         "temp_" + id,
		SenderID:       from,
		RecipientID:    to,
		ConversationID: model.ConversationID(from, to),
		Text:           "msg " + id,
		Type:           model.MessageTypeText,
		Timestamp:      ts,
	}))
}

func TestMemoryStoreBetween(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "m2", "bob", "alice", 200)
	seed(t, s, "m1", "alice", "bob", 100)
	seed(t, s, "m3", "alice", "carol", 150)
	seed(t, s, "m4", "alice", "bob", 300)

	all, err := s.Between(ctx, "bob", "alice", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m1", "m2", "m4"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Empty(t, all[0].TempID)
	assert.Equal(t, model.MessageStatusDelivered, all[0].Status)

	last, err := s.Between(ctx, "alice", "bob", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m2", last[0].ID)
	assert.Equal(t, "m4", last[1].ID)
}

func TestMemoryStoreConversationsAndReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "m1", "alice", "bob", 100)
	seed(t, s, "m2", "alice", "bob", 200)
	seed(t, s, "m3", "carol", "bob", 50)

	convs, err := s.Conversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "alice", convs[0].Participant)
	assert.Equal(t, 2, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "m2", convs[0].LastMessage.ID)
	assert.Equal(t, "carol", convs[1].Participant)

	require.NoError(t, s.MarkRead(ctx, "m1", 500))
	require.NoError(t, s.MarkRead(ctx, "m1", 900))
	m, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), m.ReadAt)
	assert.Equal(t, model.MessageStatusSeen, m.Status)

	require.NoError(t, s.MarkConversationRead(ctx, "bob", "alice", 1000))
	convs, err = s.Conversations(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
	assert.Equal(t, 1, convs[1].UnreadCount)

	// Sender side never counts its own messages as unread.
	convs, err = s.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestMemoryStoreEditAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "m1", "alice", "bob", 100)

	require.NoError(t, s.UpdateText(ctx, "m1", "edited"))
	m, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "edited", m.Text)
	assert.True(t, m.IsEdited)

	require.NoError(t, s.Delete(ctx, "m1"))
	_, err = s.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "m1"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateText(ctx, "m1", "x"), ErrNotFound)

	msgs, err := s.Between(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
