package api

import (
	"errors"
	"net/http"

	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/metrics"
	"github.com/calliope-chat/calliope/internal/state"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username, email and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	user, err := h.Store.CreateUser(r.Context(), req.Username, req.Email, hash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	metrics.UsersRegistered.Inc()
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Unknown user and wrong password are indistinguishable.
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials)
			return
		}
		h.writeDomainError(w, err)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials)
		return
	}

	token, err := h.Tokens.Issue(user.Username)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}
