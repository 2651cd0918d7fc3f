package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rtchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]model.Conversation{{
			ID: "alice_bob", Participant: "bob", UnreadCount: 2,
			LastMessage: &model.Message{ID: "9", Text: "yo"},
		}})
	})
	r.Get("/api/messages/{peerId}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "peerId") == "nobody" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such user"}`))
			return
		}
		_ = json.NewEncoder(w).Encode([]model.Message{{ID: "1", Text: "hi", SenderID: chi.URLParam(r, "peerId")}})
	})
	r.Put("/api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(model.Message{ID: chi.URLParam(r, "id"), Text: body.Text, IsEdited: true})
	})
	r.Delete("/api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/conversations/{peerId}/read", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/api/config/call", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ice_servers":[{"urls":["stun:example.org:3478"]}]}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReadModel(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL+"/", StaticToken("tok"), srv.Client())
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "bob", convs[0].Participant)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, "yo", convs[0].LastMessage.Text)

	msgs, err := c.Messages(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].SenderID)

	cfg, err := c.CallConfig(ctx)
	require.NoError(t, err)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}

func TestClientMutations(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, StaticToken("tok"), nil)
	ctx := context.Background()

	edited, err := c.EditMessage(ctx, "42", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "42", edited.ID)
	assert.Equal(t, "fixed", edited.Text)
	assert.True(t, edited.IsEdited)

	require.NoError(t, c.DeleteMessage(ctx, "42"))
	require.NoError(t, c.MarkConversationRead(ctx, "bob"))
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, err := New(srv.URL, StaticToken("wrong"), nil).Conversations(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = New(srv.URL, StaticToken("tok"), nil).Messages(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "no such user", apiErr.Message)
}

func TestDevToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body struct {
			UserID string `json:"userId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"userId required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"jwt-for-` + body.UserID + `"}`))
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	token, err := DevToken(ctx, srv.URL, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "jwt-for-alice", token)

	_, err = DevToken(ctx, srv.URL, "", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}
