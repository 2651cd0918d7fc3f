// Package api is the REST client of the relay's history read model.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/model"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
)

// Error is a non-2xx response. It matches ErrUnauthorized / ErrNotFound via errors.Is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// TokenSource supplies the bearer credential for every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), tokens: tokens, http: httpClient}
}

// CallConfig is the relay's public call configuration.
type CallConfig struct {
	ICEServers []config.IceServer `json:"ice_servers"`
}

func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Messages(ctx context.Context, peerID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(peerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type editRequest struct {
	Text string `json:"text"`
}

// EditMessage replaces the text of messageID and returns the stored record.
func (c *Client) EditMessage(ctx context.Context, messageID, text string) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(messageID), editRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) MarkConversationRead(ctx context.Context, peerID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(peerID)+"/read", nil, nil)
}

func (c *Client) CallConfig(ctx context.Context) (*CallConfig, error) {
	var out CallConfig
	if err := c.do(ctx, http.MethodGet, "/api/config/call", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type devTokenRequest struct {
	UserID string `json:"userId"`
}

type devTokenResponse struct {
	Token string `json:"token"`
}

// DevToken asks a relay running in development mode to mint a credential for userID.
// The endpoint is unauthenticated and absent on production relays.
func DevToken(ctx context.Context, baseURL, userID string, httpClient *http.Client) (string, error) {
	c := New(baseURL, nil, httpClient)
	var out devTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", devTokenRequest{UserID: userID}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("api: empty dev token for %s", userID)
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	defer logger.DeferLogDuration("api "+method+" "+path, time.Now())()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("api token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api %s %s: decode: %w", method, path, err)
	}
	return nil
}
