package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/metrics"
)

const maxUploadBytes = 25 << 20

// handleUploadAudio accepts a multipart WAV recording, records it as a user
// audio message with empty text (the transcription arrives later, in the
// turn's commit) and stores the artifact under the message's key.
func (h *Handler) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	chat, err := h.Store.GetChat(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("multipart file field is required"))
		return
	}
	defer file.Close()

	if !isWAV(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, errors.New("only WAV uploads are supported"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := h.Store.InsertUserMessage(r.Context(), chat.ID, true, "")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	key := artifact.Key(artifact.RoleUser, user.Username, msg.ID)
	if err := h.Artifacts.Put(key, data); err != nil {
		// No audio message without its recording.
		_ = h.Store.DeleteMessage(r.Context(), msg.ID)
		h.writeDomainError(w, err)
		return
	}

	metrics.AudioUploads.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"message_id": msg.ID})
}

func isWAV(filename, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".wav") {
		return true
	}
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return true
	}
	return false
}

// handleDownloadAudio streams a message's artifact. Only audio messages have
// one; anything else is reported as absent.
func (h *Handler) handleDownloadAudio(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	msg, err := h.Store.GetMessage(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !msg.IsAudio {
		writeError(w, http.StatusNotFound, errors.New("message has no audio"))
		return
	}

	role := artifact.RoleUser
	contentType := "audio/wav"
	if msg.IsAgent {
		role = artifact.RoleAgent
		contentType = "audio/mpeg"
	}

	data, err := h.Artifacts.Get(artifact.Key(role, user.Username, msg.ID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
