package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// CreateOrGetTerminalSession returns the session for worktreePath, creating
// the row when none exists. The worktree path is unique: at most one
// terminal session per worktree.
func (s *Store) CreateOrGetTerminalSession(repoID, worktreePath string) (*models.TerminalSession, error) {
	if existing, err := s.GetTerminalSessionByWorktree(worktreePath); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	ts := &models.TerminalSession{
		ID:           uuid.NewString(),
		RepoID:       repoID,
		WorktreePath: worktreePath,
		Status:       models.TerminalStopped,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.Exec(`
		INSERT INTO terminal_sessions (id, repo_id, worktree_path, pid, status, last_output, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, '', ?, ?)`,
		ts.ID, ts.RepoID, ts.WorktreePath, string(ts.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		// Lost a race on the unique worktree path; the winner's row is the
		// session.
		if existing, gerr := s.GetTerminalSessionByWorktree(worktreePath); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return ts, nil
}

func scanTerminalSession(row interface{ Scan(...any) error }) (*models.TerminalSession, error) {
	var ts models.TerminalSession
	var pid sql.NullInt64
	var status, createdAt, updatedAt string
	if err := row.Scan(&ts.ID, &ts.RepoID, &ts.WorktreePath, &pid, &status,
		&ts.LastOutput, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if pid.Valid {
		p := int(pid.Int64)
		ts.PID = &p
	}
	ts.Status = models.TerminalStatus(status)
	ts.CreatedAt = parseTime(createdAt)
	ts.UpdatedAt = parseTime(updatedAt)
	return &ts, nil
}

const terminalCols = `id, repo_id, worktree_path, pid, status, last_output, created_at, updated_at`

// GetTerminalSession loads a session by id.
func (s *Store) GetTerminalSession(id string) (*models.TerminalSession, error) {
	ts, err := scanTerminalSession(s.db.QueryRow(
		`SELECT `+terminalCols+` FROM terminal_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ts, err
}

// GetTerminalSessionByWorktree loads a session by its worktree path.
func (s *Store) GetTerminalSessionByWorktree(worktreePath string) (*models.TerminalSession, error) {
	ts, err := scanTerminalSession(s.db.QueryRow(
		`SELECT `+terminalCols+` FROM terminal_sessions WHERE worktree_path = ?`, worktreePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ts, err
}

// ListTerminalSessions returns sessions for a repo.
func (s *Store) ListTerminalSessions(repoID string) ([]models.TerminalSession, error) {
	rows, err := s.db.Query(
		`SELECT `+terminalCols+` FROM terminal_sessions WHERE repo_id = ? ORDER BY created_at`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.TerminalSession
	for rows.Next() {
		ts, err := scanTerminalSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ts)
	}
	return sessions, rows.Err()
}

// MarkTerminalRunning records the live PTY's pid.
func (s *Store) MarkTerminalRunning(id string, pid int) error {
	res, err := s.db.Exec(
		`UPDATE terminal_sessions SET pid = ?, status = ?, updated_at = ? WHERE id = ?`,
		pid, string(models.TerminalRunning), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminalStopped clears the pid and persists the output tail.
func (s *Store) MarkTerminalStopped(id string, lastOutput string) error {
	res, err := s.db.Exec(
		`UPDATE terminal_sessions SET pid = NULL, status = ?, last_output = ?, updated_at = ? WHERE id = ?`,
		string(models.TerminalStopped), lastOutput, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetTerminalSessions marks every session stopped and clears pids. Called
// at startup: rows persist across restarts, the live PTYs do not.
func (s *Store) ResetTerminalSessions() error {
	_, err := s.db.Exec(
		`UPDATE terminal_sessions SET pid = NULL, status = ?, updated_at = ?`,
		string(models.TerminalStopped), fmtTime(time.Now()))
	return err
}

// DeleteTerminalSession removes a session row.
func (s *Store) DeleteTerminalSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM terminal_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
