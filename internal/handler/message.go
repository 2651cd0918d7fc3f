package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/middleware"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/repository"
)

// Notifier delivers an event to every connection of a user (ws.Hub).
type Notifier interface {
	SendToUser(userID string, ev protocol.Event)
}

type MessageHandler struct {
	store    repository.MessageStore
	notifier Notifier
	now      func() time.Time
}

func NewMessageHandler(store repository.MessageStore, notifier Notifier) *MessageHandler {
	return &MessageHandler{store: store, notifier: notifier, now: time.Now}
}

func (h *MessageHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convs, err := h.store.Conversations(r.Context(), userID)
	if err != nil {
		logger.Errorf("get conversations user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// GetMessages returns the last limit (up to 100) messages with a peer, oldest first.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := chi.URLParam(r, "peerId")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "peer id required")
		return
	}

	limit := pageLimit(r, 50, 100)
	messages, err := h.store.Between(r.Context(), userID, peerID, limit)
	if err != nil {
		logger.Errorf("get messages user=%s peer=%s: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type editMessageRequest struct {
	Text string `json:"text"`
}

// EditMessage changes the text of the caller's message and sends message_edited to both sides.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	m, ok := h.ownMessage(w, r)
	if !ok {
		return
	}

	if err := h.store.UpdateText(r.Context(), m.ID, req.Text); err != nil {
		logger.Errorf("edit message %s: %v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to edit")
		return
	}
	m.Text = req.Text
	m.IsEdited = true

	h.notifyBoth(m, protocol.MessageEdited{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		IsEdited:       true,
	})
	writeJSON(w, http.StatusOK, m)
}

// DeleteMessage removes the caller's message and sends message_deleted to both sides.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownMessage(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), m.ID); err != nil {
		logger.Errorf("delete message %s: %v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete")
		return
	}
	h.notifyBoth(m, protocol.MessageDeleted{MessageID: m.ID, ConversationID: m.ConversationID})
	w.WriteHeader(http.StatusNoContent)
}

// MarkConversationRead marks everything received from peerId as read.
func (h *MessageHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := chi.URLParam(r, "peerId")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "peer id required")
		return
	}
	if err := h.store.MarkConversationRead(r.Context(), userID, peerID, h.now().UnixMilli()); err != nil {
		logger.Errorf("mark read user=%s peer=%s: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownMessage loads message {id} and checks the caller wrote it.
func (h *MessageHandler) ownMessage(w http.ResponseWriter, r *http.Request) (*model.Message, bool) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	m, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return nil, false
	}
	if err != nil {
		logger.Errorf("get message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return nil, false
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "can only modify own messages")
		return nil, false
	}
	return m, true
}

func (h *MessageHandler) notifyBoth(m *model.Message, ev protocol.Event) {
	if h.notifier == nil {
		return
	}
	h.notifier.SendToUser(m.SenderID, ev)
	h.notifier.SendToUser(m.RecipientID, ev)
}
