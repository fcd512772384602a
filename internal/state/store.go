package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calliope-chat/calliope/internal/idgen"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Agent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Chat struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
}

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	id := idgen.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, username, email, passwordHash, now.Format(time.RFC3339Nano))
	if isUniqueViolation(err, "users.username") {
		return User{}, ErrUsernameTaken
	}
	if isUniqueViolation(err, "users.email") {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAtStr)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return u, nil
}

// CreateAgent inserts a new agent inside a savepoint so that a duplicate-name
// failure rolls back only the attempted insert, never the enclosing
// transaction. The UNIQUE(user_id, name) constraint is the authoritative
// duplicate check.
func (s *Store) CreateAgent(ctx context.Context, userID, name, systemPrompt string) (Agent, error) {
	now := time.Now().UTC()
	agent := Agent{ID: idgen.New(), UserID: userID, Name: name, SystemPrompt: systemPrompt, CreatedAt: now, UpdatedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Agent{}, fmt.Errorf("begin create agent tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertAgentSavepoint(ctx, tx, agent); err != nil {
		return Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return Agent{}, fmt.Errorf("commit create agent: %w", err)
	}
	return agent, nil
}

func insertAgentSavepoint(ctx context.Context, tx *sql.Tx, agent Agent) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT create_agent`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO agents (id, user_id, name, system_prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.UserID, agent.Name, agent.SystemPrompt,
		agent.CreatedAt.Format(time.RFC3339Nano), agent.UpdatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err, "agents.") {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO create_agent`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		if _, relErr := tx.ExecContext(ctx, `RELEASE create_agent`); relErr != nil {
			return fmt.Errorf("release savepoint: %w", relErr)
		}
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `RELEASE create_agent`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, userID, agentID string) (Agent, error) {
	var a Agent
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, name, system_prompt, created_at, updated_at FROM agents WHERE id = ? AND user_id = ?`, agentID, userID).
		Scan(&a.ID, &a.UserID, &a.Name, &a.SystemPrompt, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, system_prompt, created_at, updated_at FROM agents WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.SystemPrompt, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

// UpdateAgent renames an agent or replaces its instructions. Renames are
// subject to the same per-owner uniqueness rule as creation.
func (s *Store) UpdateAgent(ctx context.Context, userID, agentID, name, systemPrompt string) (Agent, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET name = ?, system_prompt = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		name, systemPrompt, now.Format(time.RFC3339Nano), agentID, userID)
	if isUniqueViolation(err, "agents.") {
		return Agent{}, ErrDuplicateName
	}
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Agent{}, fmt.Errorf("update agent rows: %w", err)
	}
	if affected == 0 {
		return Agent{}, ErrNotFound
	}
	return s.GetAgent(ctx, userID, agentID)
}

func (s *Store) DeleteAgent(ctx context.Context, userID, agentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, agentID, userID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateChat(ctx context.Context, userID, agentID, name string) (Chat, error) {
	if _, err := s.GetAgent(ctx, userID, agentID); err != nil {
		return Chat{}, err
	}
	chat := Chat{ID: idgen.New(), AgentID: agentID, Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chats (id, agent_id, name, created_at, last_message_at) VALUES (?, ?, ?, ?, NULL)`,
		chat.ID, chat.AgentID, chat.Name, chat.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, userID, chatID string) (Chat, error) {
	var c Chat
	var createdAtStr string
	var lastMessageAtStr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.agent_id, c.name, c.created_at, c.last_message_at
		FROM chats c JOIN agents a ON a.id = c.agent_id
		WHERE c.id = ? AND a.user_id = ?`, chatID, userID).
		Scan(&c.ID, &c.AgentID, &c.Name, &createdAtStr, &lastMessageAtStr)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	if lastMessageAtStr.Valid {
		c.LastMessageAt, _ = time.Parse(time.RFC3339Nano, lastMessageAtStr.String)
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, userID, agentID string) ([]Chat, error) {
	if _, err := s.GetAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, name, created_at, last_message_at
		FROM chats WHERE agent_id = ?
		ORDER BY last_message_at DESC, created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		var createdAtStr string
		var lastMessageAtStr sql.NullString
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Name, &createdAtStr, &lastMessageAtStr); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		if lastMessageAtStr.Valid {
			c.LastMessageAt, _ = time.Parse(time.RFC3339Nano, lastMessageAtStr.String)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chats WHERE id = ? AND agent_id IN (SELECT id FROM agents WHERE user_id = ?)`,
		chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
