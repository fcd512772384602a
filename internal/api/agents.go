package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/state"
)

type agentRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req agentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	agent, err := h.Store.CreateAgent(r.Context(), user.ID, req.Name, req.SystemPrompt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	agents, err := h.Store.ListAgents(r.Context(), user.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if agents == nil {
		agents = []state.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	agent, err := h.Store.GetAgent(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req agentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	agent, err := h.Store.UpdateAgent(r.Context(), user.ID, chi.URLParam(r, "id"), req.Name, req.SystemPrompt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	if err := h.Store.DeleteAgent(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
