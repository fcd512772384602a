package turn

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/events"
	"github.com/calliope-chat/calliope/internal/history"
	"github.com/calliope-chat/calliope/internal/metrics"
	"github.com/calliope-chat/calliope/internal/state"
)

// SendRequest is one inbound turn. Exactly one of Text or AudioMessageID is
// set: Text for a fresh text message, AudioMessageID for a previously
// uploaded recording.
type SendRequest struct {
	ChatID         string
	Text           string
	AudioMessageID string
}

// Coordinator owns the write ordering of a turn: the user's input is durable
// before any model call, inference runs with no database transaction open,
// and the reply row, transcription update, activity stamp and reply artifact
// land as one unit or not at all.
type Coordinator struct {
	Store     *state.Store
	Artifacts artifact.Store
	Pipeline  *Pipeline
	Bus       *events.Bus
	Depth     int
	Log       zerolog.Logger
}

// Send runs one full turn for the given user and returns the committed agent
// reply. On pipeline failure the user's message stays in the log; on artifact
// failure nothing from the reply phase survives.
func (c *Coordinator) Send(ctx context.Context, user state.User, req SendRequest) (state.Message, error) {
	chat, err := c.Store.GetChat(ctx, user.ID, req.ChatID)
	if err != nil {
		return state.Message{}, err
	}
	agent, err := c.Store.GetAgent(ctx, user.ID, chat.AgentID)
	if err != nil {
		return state.Message{}, err
	}

	log, err := c.Store.ListMessages(ctx, chat.ID)
	if err != nil {
		return state.Message{}, err
	}

	depth := c.Depth
	if depth <= 0 {
		depth = history.DefaultDepth
	}

	var tc Context
	var transcribedID string

	if req.AudioMessageID != "" {
		input, rest, err := c.resolveAudioInput(ctx, user, chat, req.AudioMessageID, log)
		if err != nil {
			return state.Message{}, err
		}
		key := artifact.Key(artifact.RoleUser, user.Username, input.ID)
		audio, err := c.Artifacts.Get(key)
		if err != nil {
			return state.Message{}, err
		}
		tc = BuildContext(agent, rest, depth)
		tc.IsAudio = true
		tc.InputAudio = audio
		tc.InputFilename = key
		transcribedID = input.ID
	} else {
		// The text input is committed before inference so a failed turn
		// still leaves the user's message in the log.
		if _, err := c.Store.InsertUserMessage(ctx, chat.ID, false, req.Text); err != nil {
			return state.Message{}, err
		}
		tc = BuildContext(agent, log, depth)
		tc.UserText = req.Text
	}

	modality := "text"
	if tc.IsAudio {
		modality = "audio"
	}
	start := time.Now()

	result, err := c.Pipeline.Run(ctx, tc)
	if err != nil {
		c.observe(modality, "error", start)
		c.Log.Error().Err(err).Str("chat_id", chat.ID).Str("modality", modality).Msg("turn failed")
		c.publish(user.ID, events.Event{Type: events.TypeTurnFailed, ChatID: chat.ID, Error: err.Error()})
		return state.Message{}, err
	}

	reply, err := c.Store.CommitReply(ctx, chat.ID, state.ReplyInput{
		IsAudio:              result.IsAudio,
		Text:                 result.Text,
		TranscribedMessageID: transcribedID,
		Transcription:        result.Transcription,
	}, func(m state.Message) error {
		if !result.IsAudio {
			return nil
		}
		return c.Artifacts.Put(artifact.Key(artifact.RoleAgent, user.Username, m.ID), result.Audio)
	})
	if err != nil {
		c.observe(modality, "error", start)
		c.Log.Error().Err(err).Str("chat_id", chat.ID).Msg("commit reply failed")
		c.publish(user.ID, events.Event{Type: events.TypeTurnFailed, ChatID: chat.ID, Error: err.Error()})
		return state.Message{}, err
	}

	c.observe(modality, "ok", start)
	c.publish(user.ID, events.Event{
		Type:      events.TypeTurnCompleted,
		ChatID:    chat.ID,
		MessageID: reply.ID,
		IsAudio:   reply.IsAudio,
	})
	return reply, nil
}

// resolveAudioInput checks the referenced recording belongs to this chat and
// was sent by the user, and returns the log with that message removed so the
// turn does not see its own trigger in history. A message from another chat
// is indistinguishable from a missing one.
func (c *Coordinator) resolveAudioInput(ctx context.Context, user state.User, chat state.Chat, messageID string, log []state.Message) (state.Message, []state.Message, error) {
	input, err := c.Store.GetMessage(ctx, user.ID, messageID)
	if err != nil {
		return state.Message{}, nil, err
	}
	if input.ChatID != chat.ID || input.IsAgent || !input.IsAudio {
		return state.Message{}, nil, state.ErrNotFound
	}
	rest := make([]state.Message, 0, len(log))
	for _, m := range log {
		if m.ID == input.ID {
			continue
		}
		rest = append(rest, m)
	}
	return input, rest, nil
}

func (c *Coordinator) observe(modality, outcome string, start time.Time) {
	metrics.TurnsTotal.WithLabelValues(modality, outcome).Inc()
	metrics.TurnDuration.WithLabelValues(modality).Observe(time.Since(start).Seconds())
}

func (c *Coordinator) publish(userID string, event events.Event) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(userID, event)
}
