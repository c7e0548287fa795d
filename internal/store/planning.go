package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// SavePlanningSession upserts a planning session atomically. A missing id
// is assigned; timestamps are server-owned.
func (s *Store) SavePlanningSession(ps *models.PlanningSession) error {
	now := time.Now()
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	if ps.Status == "" {
		ps.Status = models.PlanDraft
	}
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = now
	}
	ps.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO planning_sessions
			(id, repo_id, title, base_branch, status, nodes, edges, chat_session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_id=excluded.repo_id, title=excluded.title, base_branch=excluded.base_branch,
			status=excluded.status, nodes=excluded.nodes, edges=excluded.edges,
			chat_session_id=excluded.chat_session_id, updated_at=excluded.updated_at`,
		ps.ID, ps.RepoID, ps.Title, ps.BaseBranch, string(ps.Status),
		marshalJSON(ps.Nodes), marshalJSON(ps.Edges), ps.ChatSessionID,
		fmtTime(ps.CreatedAt), fmtTime(ps.UpdatedAt))
	return err
}

func scanPlanningSession(row interface{ Scan(...any) error }) (*models.PlanningSession, error) {
	var ps models.PlanningSession
	var status, nodes, edges, createdAt, updatedAt string
	if err := row.Scan(&ps.ID, &ps.RepoID, &ps.Title, &ps.BaseBranch, &status,
		&nodes, &edges, &ps.ChatSessionID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ps.Status = models.PlanStatus(status)
	if err := json.Unmarshal([]byte(nodes), &ps.Nodes); err != nil {
		return nil, fmt.Errorf("decoding planning session nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edges), &ps.Edges); err != nil {
		return nil, fmt.Errorf("decoding planning session edges: %w", err)
	}
	ps.CreatedAt = parseTime(createdAt)
	ps.UpdatedAt = parseTime(updatedAt)
	return &ps, nil
}

const planningCols = `id, repo_id, title, base_branch, status, nodes, edges, chat_session_id, created_at, updated_at`

// GetPlanningSession loads one session by id.
func (s *Store) GetPlanningSession(id string) (*models.PlanningSession, error) {
	ps, err := scanPlanningSession(s.db.QueryRow(
		`SELECT `+planningCols+` FROM planning_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ps, err
}

// ListPlanningSessions returns sessions for a repo, newest first. An empty
// repoID lists everything.
func (s *Store) ListPlanningSessions(repoID string) ([]models.PlanningSession, error) {
	query := `SELECT ` + planningCols + ` FROM planning_sessions`
	args := []any{}
	if repoID != "" {
		query += ` WHERE repo_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.PlanningSession
	for rows.Next() {
		ps, err := scanPlanningSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ps)
	}
	return sessions, rows.Err()
}

// SetPlanningStatus transitions a session's status. Confirmation is
// non-destructive and reversible.
func (s *Store) SetPlanningStatus(id string, status models.PlanStatus) error {
	res, err := s.db.Exec(`UPDATE planning_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlanningSession removes a session row.
func (s *Store) DeletePlanningSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM planning_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
