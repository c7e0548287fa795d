package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vibetree/vibetree/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SaveTreeSpec upserts the repo's tree spec document atomically. Server
// timestamps are assigned here.
func (s *Store) SaveTreeSpec(spec *models.TreeSpec) error {
	now := time.Now()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	spec.UpdatedAt = now
	if spec.Status == "" {
		spec.Status = models.SpecDraft
	}

	doc, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding tree spec: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tree_specs (repo_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		spec.RepoID, string(doc), fmtTime(now))
	return err
}

// GetTreeSpec loads the repo's tree spec, ErrNotFound when absent.
func (s *Store) GetTreeSpec(repoID string) (*models.TreeSpec, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM tree_specs WHERE repo_id = ?`, repoID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var spec models.TreeSpec
	if err := json.Unmarshal([]byte(doc), &spec); err != nil {
		return nil, fmt.Errorf("decoding tree spec for %s: %w", repoID, err)
	}
	return &spec, nil
}

// SetTreeSpecStatus transitions the spec's status.
func (s *Store) SetTreeSpecStatus(repoID string, status models.SpecStatus) error {
	spec, err := s.GetTreeSpec(repoID)
	if err != nil {
		return err
	}
	spec.Status = status
	return s.SaveTreeSpec(spec)
}

// reparentDoc rewrites a node/edge document after branch deletion: the edge
// targeting the deleted branch's node is removed, and edges it parented are
// re-pointed at its own parent. With no grandparent the children become
// roots, i.e. they sit directly on the base branch.
func reparentDoc(nodes []models.TaskNode, edges []models.PlanEdge, deletedBranch string) ([]models.PlanEdge, bool) {
	var deletedID string
	for _, n := range nodes {
		if n.BranchName == deletedBranch {
			deletedID = n.ID
			break
		}
	}
	if deletedID == "" {
		return edges, false
	}

	var grandparent string
	for _, e := range edges {
		if e.To == deletedID {
			grandparent = e.From
			break
		}
	}

	out := make([]models.PlanEdge, 0, len(edges))
	for _, e := range edges {
		switch {
		case e.To == deletedID:
			// dropped
		case e.From == deletedID && grandparent != "":
			out = append(out, models.PlanEdge{From: grandparent, To: e.To})
		case e.From == deletedID:
			// no grandparent: child becomes a root
		default:
			out = append(out, e)
		}
	}
	return out, true
}

// ReparentAfterBranchDelete rewrites edges in the repo's tree spec and every
// planning session after deletedBranch is gone. Each affected document is
// rewritten in a single transaction.
func (s *Store) ReparentAfterBranchDelete(repoID, deletedBranch string) error {
	if err := s.reparentTreeSpec(repoID, deletedBranch); err != nil {
		return err
	}
	return s.reparentPlanningSessions(repoID, deletedBranch)
}

func (s *Store) reparentTreeSpec(repoID, deletedBranch string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRow(`SELECT doc FROM tree_specs WHERE repo_id = ?`, repoID).Scan(&doc)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		var spec models.TreeSpec
		if err := json.Unmarshal([]byte(doc), &spec); err != nil {
			return fmt.Errorf("decoding tree spec for %s: %w", repoID, err)
		}
		edges, changed := reparentDoc(spec.Nodes, spec.Edges, deletedBranch)
		if !changed {
			return nil
		}
		spec.Edges = edges
		spec.UpdatedAt = time.Now()
		updated, err := json.Marshal(&spec)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE tree_specs SET doc = ?, updated_at = ? WHERE repo_id = ?`,
			string(updated), fmtTime(spec.UpdatedAt), repoID)
		return err
	})
}

func (s *Store) reparentPlanningSessions(repoID, deletedBranch string) error {
	sessions, err := s.ListPlanningSessions(repoID)
	if err != nil {
		return err
	}
	for _, ps := range sessions {
		edges, changed := reparentDoc(ps.Nodes, ps.Edges, deletedBranch)
		if !changed {
			continue
		}
		psCopy := ps
		psCopy.Edges = edges
		if err := s.SavePlanningSession(&psCopy); err != nil {
			return err
		}
	}
	return nil
}
