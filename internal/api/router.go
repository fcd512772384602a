package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calliope-chat/calliope/internal/api/middleware"
	"github.com/calliope-chat/calliope/internal/auth"
)

// NewRouter wires the middleware chain and all routes.
func (h *Handler) NewRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(h.Log))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.handleHealth)

	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.Tokens, h.Store))

		r.Get("/users/me", h.handleMe)

		r.Post("/agents", h.handleCreateAgent)
		r.Get("/agents", h.handleListAgents)
		r.Get("/agents/{id}", h.handleGetAgent)
		r.Put("/agents/{id}", h.handleUpdateAgent)
		r.Delete("/agents/{id}", h.handleDeleteAgent)

		r.Post("/chats", h.handleCreateChat)
		r.Get("/chats", h.handleListChats)
		r.Get("/chats/{id}", h.handleGetChat)
		r.Delete("/chats/{id}", h.handleDeleteChat)
		r.Get("/chats/{id}/messages", h.handleChatMessages)
		r.Post("/chats/{id}/upload-audio", h.handleUploadAudio)

		r.Get("/messages/{id}/download", h.handleDownloadAudio)

		r.Post("/send", h.handleSend)

		r.Get("/events/ws", h.handleEventsWS)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}
