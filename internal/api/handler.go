// Package api exposes the HTTP surface: accounts, agent and chat management,
// audio upload/download, the turn endpoint and the live event feed.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/events"
	"github.com/calliope-chat/calliope/internal/inference"
	"github.com/calliope-chat/calliope/internal/state"
	"github.com/calliope-chat/calliope/internal/turn"
)

type Handler struct {
	Log         zerolog.Logger
	Store       *state.Store
	Artifacts   artifact.Store
	Coordinator *turn.Coordinator
	Tokens      *auth.Tokens
	Bus         *events.Bus
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeDomainError maps domain error kinds to status codes. Absent and
// not-owned resources are both 404; provider failures surface as 502 so
// callers can tell them from our own faults.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var transcription *inference.TranscriptionError
	var completion *inference.CompletionError
	var synthesis *inference.SynthesisError
	var write *artifact.WriteError
	var invariant *turn.InvariantViolationError

	switch {
	case errors.Is(err, state.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, state.ErrDuplicateName):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, state.ErrUsernameTaken), errors.Is(err, state.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err)
	case errors.As(err, &transcription), errors.As(err, &completion), errors.As(err, &synthesis):
		writeError(w, http.StatusBadGateway, err)
	case errors.As(err, &write), errors.As(err, &invariant):
		h.Log.Error().Err(err).Msg("turn infrastructure failure")
		writeError(w, http.StatusInternalServerError, err)
	default:
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
