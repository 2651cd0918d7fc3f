package handler

import (
	"net/http"

	"github.com/rtchat/internal/config"
)

// ConfigHandler serves public relay settings.
type ConfigHandler struct {
	iceServers []config.IceServer
}

func NewConfigHandler(iceServers []config.IceServer) *ConfigHandler {
	if iceServers == nil {
		iceServers = []config.IceServer{}
	}
	return &ConfigHandler{iceServers: iceServers}
}

// GetCallConfig returns the ICE servers clients should use for calls.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.iceServers,
	})
}
