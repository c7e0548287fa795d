package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// SetRepoPin stores the user's preferred base branch for a repo.
func (s *Store) SetRepoPin(repoID, baseBranch string) error {
	_, err := s.db.Exec(`
		INSERT INTO repo_pins (repo_id, base_branch, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET base_branch=excluded.base_branch, updated_at=excluded.updated_at`,
		repoID, baseBranch, fmtTime(time.Now()))
	return err
}

// GetRepoPin returns the pinned base branch, ErrNotFound when unset.
func (s *Store) GetRepoPin(repoID string) (*models.RepoPin, error) {
	var pin models.RepoPin
	var updatedAt string
	err := s.db.QueryRow(`SELECT repo_id, base_branch, updated_at FROM repo_pins WHERE repo_id = ?`,
		repoID).Scan(&pin.RepoID, &pin.BaseBranch, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pin.UpdatedAt = parseTime(updatedAt)
	return &pin, nil
}

// DeleteRepoPin clears the pin.
func (s *Store) DeleteRepoPin(repoID string) error {
	_, err := s.db.Exec(`DELETE FROM repo_pins WHERE repo_id = ?`, repoID)
	return err
}

// SetBranchNamingRule upserts the repo's branch naming rule.
func (s *Store) SetBranchNamingRule(repoID string, rule *models.BranchNamingRule) error {
	var doc any
	if rule != nil {
		doc = marshalJSON(rule)
	}
	_, err := s.db.Exec(`
		INSERT INTO branch_rules (repo_id, branch_naming, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET branch_naming=excluded.branch_naming, updated_at=excluded.updated_at`,
		repoID, doc, fmtTime(time.Now()))
	return err
}

// GetBranchNamingRule returns the rule or nil when none is configured.
func (s *Store) GetBranchNamingRule(repoID string) (*models.BranchNamingRule, error) {
	var doc sql.NullString
	err := s.db.QueryRow(`SELECT branch_naming FROM branch_rules WHERE repo_id = ?`, repoID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !doc.Valid || doc.String == "" {
		return nil, nil
	}
	var rule models.BranchNamingRule
	if err := json.Unmarshal([]byte(doc.String), &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// AddTaskInstruction stores an instruction attached to a branch.
func (s *Store) AddTaskInstruction(repoID, branchName, content string) (*models.TaskInstruction, error) {
	ti := &models.TaskInstruction{
		ID:         uuid.NewString(),
		RepoID:     repoID,
		BranchName: branchName,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO task_instructions (id, repo_id, branch_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ti.ID, ti.RepoID, ti.BranchName, ti.Content, fmtTime(ti.CreatedAt))
	if err != nil {
		return nil, err
	}
	return ti, nil
}

// ListTaskInstructions returns instructions for a repo, optionally for one
// branch.
func (s *Store) ListTaskInstructions(repoID, branchName string) ([]models.TaskInstruction, error) {
	query := `SELECT id, repo_id, branch_name, content, created_at FROM task_instructions WHERE repo_id = ?`
	args := []any{repoID}
	if branchName != "" {
		query += ` AND branch_name = ?`
		args = append(args, branchName)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskInstruction
	for rows.Next() {
		var ti models.TaskInstruction
		var createdAt string
		if err := rows.Scan(&ti.ID, &ti.RepoID, &ti.BranchName, &ti.Content, &createdAt); err != nil {
			return nil, err
		}
		ti.CreatedAt = parseTime(createdAt)
		out = append(out, ti)
	}
	return out, rows.Err()
}

// AppendInstructionsLog records one instructions-log entry.
func (s *Store) AppendInstructionsLog(repoID, branchName, content string) (*models.InstructionsLogEntry, error) {
	e := &models.InstructionsLogEntry{
		ID:         uuid.NewString(),
		RepoID:     repoID,
		BranchName: branchName,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO instructions_log (id, repo_id, branch_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.RepoID, e.BranchName, e.Content, fmtTime(e.CreatedAt))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListInstructionsLog returns log entries for a repo in order.
func (s *Store) ListInstructionsLog(repoID string) ([]models.InstructionsLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_id, branch_name, content, created_at FROM instructions_log
		 WHERE repo_id = ? ORDER BY created_at`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.InstructionsLogEntry
	for rows.Next() {
		var e models.InstructionsLogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.RepoID, &e.BranchName, &e.Content, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
