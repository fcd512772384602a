package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calliope-chat/calliope/internal/idgen"
)

type Message struct {
	ID      string    `json:"id"`
	ChatID  string    `json:"-"`
	SentAt  time.Time `json:"sent_at"`
	IsAgent bool      `json:"is_agent"`
	IsAudio bool      `json:"is_audio"`
	Text    string    `json:"text"`
}

// InsertUserMessage durably records a user message before any inference runs,
// so the user's own input survives a failed or cancelled turn.
func (s *Store) InsertUserMessage(ctx context.Context, chatID string, isAudio bool, text string) (Message, error) {
	msg := Message{
		ID:      idgen.MessageID(),
		ChatID:  chatID,
		SentAt:  time.Now().UTC(),
		IsAgent: false,
		IsAudio: isAudio,
		Text:    text,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, chat_id, sent_at, is_agent, is_audio, text) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SentAt.Format(time.RFC3339Nano), boolToInt(msg.IsAgent), boolToInt(msg.IsAudio), msg.Text)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message row. Used to undo an upload whose artifact
// write failed, so no audio message exists without its recording.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// GetMessage resolves a message the given user owns (through its chat's
// agent). Absent and not-owned are indistinguishable.
func (s *Store) GetMessage(ctx context.Context, userID, messageID string) (Message, error) {
	var m Message
	var sentAtStr string
	var isAgent, isAudio int
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.chat_id, m.sent_at, m.is_agent, m.is_audio, m.text
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		JOIN agents a ON a.id = c.agent_id
		WHERE m.id = ? AND a.user_id = ?`, messageID, userID).
		Scan(&m.ID, &m.ChatID, &sentAtStr, &isAgent, &isAudio, &m.Text)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	m.SentAt, _ = time.Parse(time.RFC3339Nano, sentAtStr)
	m.IsAgent = isAgent != 0
	m.IsAudio = isAudio != 0
	return m, nil
}

// ListMessages returns a chat's full log ordered by sequence timestamp,
// message id breaking ties (ids are time-ordered ULIDs, so ties resolve to
// insertion order).
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sent_at, is_agent, is_audio, text
		FROM messages WHERE chat_id = ?
		ORDER BY sent_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sentAtStr string
		var isAgent, isAudio int
		if err := rows.Scan(&m.ID, &m.ChatID, &sentAtStr, &isAgent, &isAudio, &m.Text); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt, _ = time.Parse(time.RFC3339Nano, sentAtStr)
		m.IsAgent = isAgent != 0
		m.IsAudio = isAudio != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ReplyInput describes the agent message to commit at the end of a turn.
type ReplyInput struct {
	IsAudio bool
	Text    string

	// TranscribedMessageID, when set, names the triggering audio message
	// whose text should be updated to Transcription in the same commit.
	TranscribedMessageID string
	Transcription        string
}

// CommitReply finalizes a turn: it inserts the agent reply row, applies the
// transcription update to the triggering audio message if any, runs persist
// (the artifact write) before committing, and stamps the chat's last-activity
// time — all as one durable unit. If persist fails, every write is rolled
// back and the chat is left exactly as it was before the turn's write phase.
//
// The database transaction opens only here, after inference has finished; no
// write lock is held across gateway calls.
func (s *Store) CommitReply(ctx context.Context, chatID string, input ReplyInput, persist func(Message) error) (Message, error) {
	reply := Message{
		ID:      idgen.MessageID(),
		ChatID:  chatID,
		SentAt:  time.Now().UTC(),
		IsAgent: true,
		IsAudio: input.IsAudio,
		Text:    input.Text,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin reply tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO messages (id, chat_id, sent_at, is_agent, is_audio, text) VALUES (?, ?, ?, ?, ?, ?)`,
		reply.ID, reply.ChatID, reply.SentAt.Format(time.RFC3339Nano), 1, boolToInt(reply.IsAudio), reply.Text)
	if err != nil {
		return Message{}, fmt.Errorf("insert reply: %w", err)
	}

	if input.TranscribedMessageID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE messages SET text = ? WHERE id = ? AND chat_id = ?`,
			input.Transcription, input.TranscribedMessageID, chatID)
		if err != nil {
			return Message{}, fmt.Errorf("update transcription: %w", err)
		}
	}

	if persist != nil {
		if err := persist(reply); err != nil {
			return Message{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE chats SET last_message_at = ? WHERE id = ?`,
		reply.SentAt.Format(time.RFC3339Nano), chatID)
	if err != nil {
		return Message{}, fmt.Errorf("update chat activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit reply: %w", err)
	}
	return reply, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
