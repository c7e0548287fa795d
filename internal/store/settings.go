package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// CreateRequirement inserts a requirement for a repo.
func (s *Store) CreateRequirement(repoID, title, content string) (*models.Requirement, error) {
	now := time.Now()
	r := &models.Requirement{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		Title:     title,
		Content:   content,
		Status:    models.RequirementOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO requirements (id, repo_id, title, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RepoID, r.Title, r.Content, string(r.Status), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequirement loads one requirement.
func (s *Store) GetRequirement(id string) (*models.Requirement, error) {
	row := s.db.QueryRow(`
		SELECT id, repo_id, title, content, status, created_at, updated_at
		FROM requirements WHERE id = ?`, id)
	return scanRequirement(row)
}

// ListRequirements returns a repo's requirements in creation order.
func (s *Store) ListRequirements(repoID string) ([]models.Requirement, error) {
	rows, err := s.db.Query(`
		SELECT id, repo_id, title, content, status, created_at, updated_at
		FROM requirements WHERE repo_id = ? ORDER BY created_at`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Requirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRequirement patches title, content and status. Empty fields keep
// their stored value.
func (s *Store) UpdateRequirement(id, title, content string, status models.RequirementStatus) (*models.Requirement, error) {
	res, err := s.db.Exec(`
		UPDATE requirements SET
			title   = COALESCE(NULLIF(?, ''), title),
			content = COALESCE(NULLIF(?, ''), content),
			status  = COALESCE(NULLIF(?, ''), status),
			updated_at = ?
		WHERE id = ?`,
		title, content, string(status), fmtTime(time.Now()), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetRequirement(id)
}

// DeleteRequirement removes one requirement.
func (s *Store) DeleteRequirement(id string) error {
	res, err := s.db.Exec(`DELETE FROM requirements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirement(row rowScanner) (*models.Requirement, error) {
	var r models.Requirement
	var status, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.RepoID, &r.Title, &r.Content, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RequirementStatus(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// SetAISettings upserts a repo's assistant configuration.
func (s *Store) SetAISettings(cfg *models.AISettings) error {
	cfg.UpdatedAt = time.Now()
	_, err := s.db.Exec(`
		INSERT INTO ai_settings (repo_id, provider, model, system_prompt, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			provider=excluded.provider, model=excluded.model,
			system_prompt=excluded.system_prompt, updated_at=excluded.updated_at`,
		cfg.RepoID, cfg.Provider, cfg.Model, cfg.SystemPrompt, fmtTime(cfg.UpdatedAt))
	return err
}

// GetAISettings returns a repo's assistant configuration, ErrNotFound when
// none is stored.
func (s *Store) GetAISettings(repoID string) (*models.AISettings, error) {
	var cfg models.AISettings
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT repo_id, provider, model, system_prompt, updated_at
		FROM ai_settings WHERE repo_id = ?`, repoID).
		Scan(&cfg.RepoID, &cfg.Provider, &cfg.Model, &cfg.SystemPrompt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

// DeleteAISettings clears a repo's assistant configuration.
func (s *Store) DeleteAISettings(repoID string) error {
	_, err := s.db.Exec(`DELETE FROM ai_settings WHERE repo_id = ?`, repoID)
	return err
}

// SetSystemSetting upserts one server-wide key/value pair.
func (s *Store) SetSystemSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, fmtTime(time.Now()))
	return err
}

// ListSystemSettings returns every stored setting keyed by name.
func (s *Store) ListSystemSettings() ([]models.SystemSetting, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SystemSetting
	for rows.Next() {
		var set models.SystemSetting
		var updatedAt string
		if err := rows.Scan(&set.Key, &set.Value, &updatedAt); err != nil {
			return nil, err
		}
		set.UpdatedAt = parseTime(updatedAt)
		out = append(out, set)
	}
	return out, rows.Err()
}

// DeleteSystemSetting removes one key.
func (s *Store) DeleteSystemSetting(key string) error {
	res, err := s.db.Exec(`DELETE FROM system_settings WHERE key = ?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
