package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rtchat/internal/middleware"
	"github.com/rtchat/internal/mocks"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/repository"
)

const testSecret = "test-secret"

type messageFixture struct {
	store    *repository.MemoryStore
	notifier *mocks.EventSinkMock
	srv      *httptest.Server
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	f := &messageFixture{store: repository.NewMemoryStore(), notifier: &mocks.EventSinkMock{}}
	h := NewMessageHandler(f.store, f.notifier)
	h.now = func() time.Time { return time.UnixMilli(9000) }

	r := chi.NewRouter()
	r.Use(middleware.BearerAuth(testSecret))
	r.Get("/api/conversations", h.GetConversations)
	r.Post("/api/conversations/{peerId}/read", h.MarkConversationRead)
	r.Get("/api/messages/{peerId}", h.GetMessages)
	r.Put("/api/messages/{id}", h.EditMessage)
	r.Delete("/api/messages/{id}", h.DeleteMessage)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *messageFixture) seed(t *testing.T, id, from, to, text string, ts int64) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &model.Message{
		ID: id, SenderID: from, RecipientID: to, ConversationID: model.ConversationID(from, to),
		Text: text, Type: model.MessageTypeText, Timestamp: ts,
	}))
}

func (f *messageFixture) do(t *testing.T, user, method, path, body string) *http.Response {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, user, time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetMessagesReturnsConversationOldestFirst(t *testing.T) {
	f := newMessageFixture(t)
	f.seed(t, "m2", "bob", "alice", "second", 200)
	f.seed(t, "m1", "alice", "bob", "first", 100)
	f.seed(t, "m3", "alice", "carol", "elsewhere", 150)

	resp := f.do(t, "alice", http.MethodGet, "/api/messages/bob", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []model.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
	assert.Equal(t, model.MessageStatusDelivered, got[0].Status)

	resp = f.do(t, "alice", http.MethodGet, "/api/messages/bob?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text)
}

func TestPageLimit(t *testing.T) {
	cases := map[string]int{"": 50, "abc": 50, "-3": 50, "0": 50, "20": 20, "500": 100}
	for raw, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/messages/bob?limit="+raw, nil)
		assert.Equal(t, want, pageLimit(r, 50, 100), "limit=%q", raw)
	}
}

func TestGetConversationsEmptyIsArray(t *testing.T) {
	f := newMessageFixture(t)
	resp := f.do(t, "alice", http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestEditMessageNotifiesBothParties(t *testing.T) {
	f := newMessageFixture(t)
	f.seed(t, "m1", "alice", "bob", "helo", 100)

	want := protocol.MessageEdited{
		MessageID: "m1", ConversationID: model.ConversationID("alice", "bob"), Text: "hello", IsEdited: true,
	}
	f.notifier.On("SendToUser", "alice", want).Once()
	f.notifier.On("SendToUser", "bob", want).Once()

	resp := f.do(t, "alice", http.MethodPut, "/api/messages/m1", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.IsEdited)
	f.notifier.AssertExpectations(t)

	stored, err := f.store.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Text)
}

func TestEditRejectsForeignAndEmpty(t *testing.T) {
	f := newMessageFixture(t)
	f.seed(t, "m1", "alice", "bob", "mine", 100)

	resp := f.do(t, "bob", http.MethodPut, "/api/messages/m1", `{"text":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, "alice", http.MethodPut, "/api/messages/m1", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, "alice", http.MethodPut, "/api/messages/m1", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.notifier.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything)
}

func TestDeleteMessage(t *testing.T) {
	f := newMessageFixture(t)
	f.seed(t, "m1", "alice", "bob", "bye", 100)
	f.notifier.On("SendToUser", mock.Anything, protocol.MessageDeleted{
		MessageID: "m1", ConversationID: model.ConversationID("alice", "bob"),
	}).Twice()

	resp := f.do(t, "alice", http.MethodDelete, "/api/messages/m1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.notifier.AssertExpectations(t)

	_, err := f.store.GetByID(context.Background(), "m1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	resp = f.do(t, "alice", http.MethodDelete, "/api/messages/m1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkConversationReadClearsUnread(t *testing.T) {
	f := newMessageFixture(t)
	f.seed(t, "m1", "bob", "alice", "one", 100)
	f.seed(t, "m2", "bob", "alice", "two", 200)

	convs, err := f.store.Conversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)

	resp := f.do(t, "alice", http.MethodPost, "/api/conversations/bob/read", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	convs, err = f.store.Conversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Equal(t, model.MessageStatusSeen, convs[0].LastMessage.Status)
	assert.Equal(t, int64(9000), convs[0].LastMessage.ReadAt)
}
