package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibetree/vibetree/internal/models"
)

// UpsertBranchLink inserts or refreshes a branch link, keyed by
// (repo, branch, url).
func (s *Store) UpsertBranchLink(link *models.BranchLink) error {
	now := time.Now()
	if link.ID == "" {
		var existing string
		err := s.db.QueryRow(
			`SELECT id FROM branch_links WHERE repo_id = ? AND branch_name = ? AND url = ?`,
			link.RepoID, link.BranchName, link.URL).Scan(&existing)
		switch err {
		case nil:
			link.ID = existing
		case sql.ErrNoRows:
			link.ID = uuid.NewString()
		default:
			return err
		}
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO branch_links
			(id, repo_id, branch_name, link_type, url, number, title, status, checks, labels, reviewers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			link_type=excluded.link_type, url=excluded.url, number=excluded.number,
			title=excluded.title, status=excluded.status, checks=excluded.checks,
			labels=excluded.labels, reviewers=excluded.reviewers, updated_at=excluded.updated_at`,
		link.ID, link.RepoID, link.BranchName, string(link.LinkType), link.URL,
		link.Number, link.Title, link.Status, string(link.Checks),
		marshalJSON(link.Labels), marshalJSON(link.Reviewers),
		fmtTime(link.CreatedAt), fmtTime(link.UpdatedAt))
	return err
}

// ListBranchLinks returns links for a repo, optionally filtered by branch.
func (s *Store) ListBranchLinks(repoID, branchName string) ([]models.BranchLink, error) {
	query := `SELECT id, repo_id, branch_name, link_type, url, number, title, status, checks, labels, reviewers, created_at, updated_at
		FROM branch_links WHERE repo_id = ?`
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

	var links []models.BranchLink
	for rows.Next() {
		var l models.BranchLink
		var linkType, checks, labels, reviewers, createdAt, updatedAt string
		if err := rows.Scan(&l.ID, &l.RepoID, &l.BranchName, &linkType, &l.URL, &l.Number,
			&l.Title, &l.Status, &checks, &labels, &reviewers, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.LinkType = models.BranchLinkType(linkType)
		l.Checks = models.CheckConclusion(checks)
		_ = json.Unmarshal([]byte(labels), &l.Labels)
		_ = json.Unmarshal([]byte(reviewers), &l.Reviewers)
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// DeleteBranchLink removes one link row.
func (s *Store) DeleteBranchLink(id string) error {
	res, err := s.db.Exec(`DELETE FROM branch_links WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InferLinkType classifies a URL by its host pattern.
func InferLinkType(url string) models.ExternalLinkType {
	switch {
	case strings.Contains(url, "notion.so") || strings.Contains(url, "notion.site"):
		return models.ExternalNotion
	case strings.Contains(url, "figma.com"):
		return models.ExternalFigma
	case strings.Contains(url, "github.com") && strings.Contains(url, "/issues/"):
		return models.ExternalGitHubIssue
	case strings.Contains(url, "github.com") && strings.Contains(url, "/pull/"):
		return models.ExternalGitHubPR
	default:
		return models.ExternalURL
	}
}

// CreateExternalLink attaches a link to a planning session. The link type
// is inferred from the URL when not provided.
func (s *Store) CreateExternalLink(link *models.ExternalLink) error {
	now := time.Now()
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.LinkType == "" {
		link.LinkType = InferLinkType(link.URL)
	}
	link.CreatedAt = now
	link.UpdatedAt = now

	var lastFetched any
	if link.LastFetchedAt != nil {
		lastFetched = fmtTime(*link.LastFetchedAt)
	}
	_, err := s.db.Exec(`
		INSERT INTO external_links
			(id, planning_session_id, url, link_type, title, content_cache, last_fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.PlanningSessionID, link.URL, string(link.LinkType), link.Title,
		link.ContentCache, lastFetched, fmtTime(now), fmtTime(now))
	return err
}

func scanExternalLink(row interface{ Scan(...any) error }) (*models.ExternalLink, error) {
	var l models.ExternalLink
	var linkType, createdAt, updatedAt string
	var content sql.NullString
	var fetched sql.NullString
	if err := row.Scan(&l.ID, &l.PlanningSessionID, &l.URL, &linkType, &l.Title,
		&content, &fetched, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	l.LinkType = models.ExternalLinkType(linkType)
	if content.Valid {
		l.ContentCache = &content.String
	}
	if fetched.Valid {
		t := parseTime(fetched.String)
		l.LastFetchedAt = &t
	}
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

const externalLinkCols = `id, planning_session_id, url, link_type, title, content_cache, last_fetched_at, created_at, updated_at`

// GetExternalLink loads one link by id.
func (s *Store) GetExternalLink(id string) (*models.ExternalLink, error) {
	l, err := scanExternalLink(s.db.QueryRow(
		`SELECT `+externalLinkCols+` FROM external_links WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

// ListExternalLinks returns a planning session's links in creation order.
func (s *Store) ListExternalLinks(planningSessionID string) ([]models.ExternalLink, error) {
	rows, err := s.db.Query(
		`SELECT `+externalLinkCols+` FROM external_links WHERE planning_session_id = ? ORDER BY created_at`,
		planningSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.ExternalLink
	for rows.Next() {
		l, err := scanExternalLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// UpdateExternalLinkTitle renames a link.
func (s *Store) UpdateExternalLinkTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE external_links SET title = ?, updated_at = ? WHERE id = ?`,
		title, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExternalLinkContent stores fetched content; a nil content records a
// fetch that yielded nothing.
func (s *Store) SetExternalLinkContent(id string, content *string, fetchedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE external_links SET content_cache = ?, last_fetched_at = ?, updated_at = ? WHERE id = ?`,
		content, fmtTime(fetchedAt), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExternalLink removes one link row.
func (s *Store) DeleteExternalLink(id string) error {
	res, err := s.db.Exec(`DELETE FROM external_links WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
