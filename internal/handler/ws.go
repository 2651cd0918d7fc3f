package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/middleware"
	"github.com/rtchat/internal/ws"
)

// WSHandler starts a protocol session for the authenticated user.
type WSHandler struct {
	hub      *ws.Hub
	limits   ws.Limits
	origins  map[string]struct{} // nil allows any Origin
	upgrader websocket.Upgrader
}

// NewWSHandler takes allowedOrigins in CORS_ALLOWED_ORIGINS form (comma separated or "*").
func NewWSHandler(hub *ws.Hub, limits ws.Limits, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, limits: limits}
	if o := strings.TrimSpace(allowedOrigins); o != "" && o != "*" {
		h.origins = make(map[string]struct{})
		for _, origin := range strings.Split(o, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				h.origins[origin] = struct{}{}
			}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits native clients without Origin and listed browser origins.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if h.origins == nil || origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		logger.Warnf("ws: origin %q rejected for user=%s", r.Header.Get("Origin"), userID)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered.
		logger.Debugf("ws upgrade user=%s: %v", userID, err)
		return
	}

	// The session outlives the request, so its context is not derived from r.Context().
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, h.limits)
	h.hub.Register(client)
	client.Start(ctx, cancel)
}
