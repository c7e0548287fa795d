package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// CreateChatSession inserts a chat session row for a worktree+branch.
func (s *Store) CreateChatSession(worktreePath, branchName string) (*models.ChatSession, error) {
	now := time.Now()
	cs := &models.ChatSession{
		ID:           uuid.NewString(),
		WorktreePath: worktreePath,
		BranchName:   branchName,
		Status:       models.ChatActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_sessions (id, worktree_path, branch_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.WorktreePath, cs.BranchName, string(cs.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func scanChatSession(row interface{ Scan(...any) error }) (*models.ChatSession, error) {
	var cs models.ChatSession
	var status, createdAt, updatedAt string
	if err := row.Scan(&cs.ID, &cs.WorktreePath, &cs.BranchName, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	cs.Status = models.ChatStatus(status)
	cs.CreatedAt = parseTime(createdAt)
	cs.UpdatedAt = parseTime(updatedAt)
	return &cs, nil
}

// GetChatSession loads one chat session.
func (s *Store) GetChatSession(id string) (*models.ChatSession, error) {
	cs, err := scanChatSession(s.db.QueryRow(
		`SELECT id, worktree_path, branch_name, status, created_at, updated_at
		 FROM chat_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cs, err
}

// ListChatSessionsForBranch returns the chat sessions attached to a branch.
func (s *Store) ListChatSessionsForBranch(branchName string) ([]models.ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT id, worktree_path, branch_name, status, created_at, updated_at
		 FROM chat_sessions WHERE branch_name = ? ORDER BY created_at`, branchName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		cs, err := scanChatSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *cs)
	}
	return sessions, rows.Err()
}

// SetChatStatus transitions a chat session's status.
func (s *Store) SetChatStatus(id string, status models.ChatStatus) error {
	res, err := s.db.Exec(`UPDATE chat_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendChatMessage adds one message to a session. Messages are append-only.
func (s *Store) AppendChatMessage(sessionID string, role models.ChatRole, content string) (*models.ChatMessage, error) {
	if _, err := s.GetChatSession(sessionID); err != nil {
		return nil, err
	}
	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, fmtTime(msg.CreatedAt))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListChatMessages returns a session's messages in order.
func (s *Store) ListChatMessages(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.Role = models.ChatRole(role)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
