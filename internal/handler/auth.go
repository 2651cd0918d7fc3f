package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/middleware"
)

// AuthHandler issues development tokens. The relay keeps no user records,
// so any userId gets a signed JWT. Enabled only with -dev.
type AuthHandler struct {
	secret string
	ttl    time.Duration
}

func NewAuthHandler(secret string, ttl time.Duration) *AuthHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{secret: secret, ttl: ttl}
}

type tokenRequest struct {
	UserID string `json:"userId"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	token, err := middleware.IssueToken(h.secret, req.UserID, h.ttl)
	if err != nil {
		logger.Errorf("issue token user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	logger.Infof("dev token issued user=%s token=%s", req.UserID, middleware.MaskToken(token))
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		UserID:    req.UserID,
		ExpiresAt: time.Now().Add(h.ttl).UnixMilli(),
	})
}
