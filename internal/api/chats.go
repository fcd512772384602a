package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/history"
	"github.com/calliope-chat/calliope/internal/state"
)

type chatRequest struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AgentID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id and name are required"))
		return
	}

	chat, err := h.Store.CreateChat(r.Context(), user.ID, req.AgentID, req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id is required"))
		return
	}
	chats, err := h.Store.ListChats(r.Context(), user.ID, agentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if chats == nil {
		chats = []state.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	chat, err := h.Store.GetChat(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	if err := h.Store.DeleteChat(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChatMessages serves the page window: offset counts backward from the
// most recent message (-1 default), limit defaults to 10. Out-of-range pages
// are empty, never errors.
func (h *Handler) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	chat, err := h.Store.GetChat(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	offset := parseInt(r.URL.Query().Get("offset"), -1)
	limit := parseInt(r.URL.Query().Get("limit"), 10)

	log, err := h.Store.ListMessages(r.Context(), chat.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	page := history.PageWindow(log, offset, limit)
	if page == nil {
		page = []history.PageItem{}
	}
	writeJSON(w, http.StatusOK, page)
}
