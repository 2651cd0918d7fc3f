package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/metrics"
	"github.com/rtchat/internal/middleware"
	"github.com/rtchat/internal/repository"
	"github.com/rtchat/internal/ws"
)

// Deps is what the relay router needs.
type Deps struct {
	Hub            *ws.Hub
	Store          repository.MessageStore
	JWTSecret      string
	AllowedOrigins string
	ICEServers     []config.IceServer
	WSLimits       ws.Limits
	// DevTokens enables POST /api/auth/token.
	DevTokens bool
	// RatePerIP and RatePerUser are requests per minute; 0 means the default.
	RatePerIP   int
	RatePerUser int
	// MetricsSecret opens /metrics outside the private network via X-Internal-Secret.
	MetricsSecret string
}

// NewRouter builds the relay chi router: REST history, /ws, /metrics and /health.
func NewRouter(d Deps) http.Handler {
	perIP, perUser := d.RatePerIP, d.RatePerUser
	if perIP <= 0 {
		perIP = middleware.DefaultRatePerIP
	}
	if perUser <= 0 {
		perUser = middleware.DefaultRatePerUser
	}
	origins := []string{"*"}
	if o := strings.TrimSpace(d.AllowedOrigins); o != "" && o != "*" {
		origins = strings.Split(o, ",")
	}

	msgH := NewMessageHandler(d.Store, d.Hub)
	configH := NewConfigHandler(d.ICEServers)
	wsH := NewWSHandler(d.Hub, d.WSLimits, d.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(d.MetricsSecret)).Handle("/metrics", metrics.Handler())
	r.Get("/api/config/call", configH.GetCallConfig)
	if d.DevTokens {
		r.Post("/api/auth/token", NewAuthHandler(d.JWTSecret, 24*time.Hour).IssueToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.JWTSecret))
		r.Use(middleware.RateLimit(perIP, perUser, middleware.DefaultRateWindow))
		r.Get("/api/conversations", msgH.GetConversations)
		r.Post("/api/conversations/{peerId}/read", msgH.MarkConversationRead)
		r.Get("/api/messages/{peerId}", msgH.GetMessages)
		r.Put("/api/messages/{id}", msgH.EditMessage)
		r.Delete("/api/messages/{id}", msgH.DeleteMessage)
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
