package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/state"
	"github.com/calliope-chat/calliope/internal/turn"
)

type sendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text,omitempty"`
	Audio  string `json:"audio,omitempty"`
}

// replyResponse is the wire form of an agent reply. Audio replies report an
// empty text field; the transcript is only visible to the model.
type replyResponse struct {
	ID      string    `json:"id"`
	SentAt  time.Time `json:"sent_at"`
	Sender  string    `json:"sender"`
	IsAudio bool      `json:"is_audio"`
	Text    string    `json:"text"`
}

func newReplyResponse(m state.Message) replyResponse {
	text := m.Text
	if m.IsAudio {
		text = ""
	}
	return replyResponse{ID: m.ID, SentAt: m.SentAt, Sender: "agent", IsAudio: m.IsAudio, Text: text}
}

// handleSend runs one conversational turn: either a fresh text message or a
// reference to a previously uploaded recording, never both.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req sendRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, errors.New("chat_id is required"))
		return
	}
	if (req.Text == "") == (req.Audio == "") {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of text or audio is required"))
		return
	}

	reply, err := h.Coordinator.Send(r.Context(), user, turn.SendRequest{
		ChatID:         req.ChatID,
		Text:           req.Text,
		AudioMessageID: req.Audio,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReplyResponse(reply))
}
