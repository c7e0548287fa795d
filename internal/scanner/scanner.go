// Package scanner composes the VCS adapter and the store into a typed scan
// snapshot: nodes, inferred and designed edges, badges, ahead/behind counts
// and warnings.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/vcs"
)

// ErrPathNotFound is returned when the scan target does not exist on disk.
var ErrPathNotFound = errors.New("path does not exist")

const (
	repoIDTTL = 5 * time.Minute
	prListTTL = 60 * time.Second
)

// Scanner produces scan snapshots. Scans are read-only; any number may run
// concurrently against the same repo.
type Scanner struct {
	vcs   *vcs.Client
	store *store.Store
	cache *cache.Cache
	bus   *events.Bus
}

// New wires a scanner.
func New(v *vcs.Client, st *store.Store, c *cache.Cache, bus *events.Bus) *Scanner {
	return &Scanner{vcs: v, store: st, cache: c, bus: bus}
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Scan builds a snapshot for the repository at localPath, broadcasts it on
// the bus keyed by repo id and returns it.
func (s *Scanner) Scan(ctx context.Context, localPath string) (*models.ScanSnapshot, error) {
	localPath = ExpandPath(localPath)
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, localPath)
	}

	repoID := s.repoID(ctx, localPath)

	var (
		branches  []models.Branch
		worktrees []models.Worktree
		prs       []models.PullRequest
		rule      *models.BranchNamingRule
		spec      *models.TreeSpec
		pin       *models.RepoPin
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		branches, err = s.vcs.ListBranches(gctx, localPath)
		return err
	})
	g.Go(func() error {
		var err error
		worktrees, err = s.vcs.ListWorktrees(gctx, localPath)
		if err != nil {
			return err
		}
		for i := range worktrees {
			if agent, active := vcs.ReadHeartbeat(worktrees[i].Path); active {
				worktrees[i].Active = true
				worktrees[i].Agent = agent
			}
		}
		return nil
	})
	g.Go(func() error {
		// PR listing is best-effort: a missing gh or a network failure
		// yields an empty list and an otherwise correct snapshot.
		v, err := s.cache.GetOrFetch("prs:"+repoID, prListTTL, func() (any, error) {
			return s.vcs.ListPRs(gctx, localPath)
		})
		if err != nil {
			logger.Debugf("scan %s: pr list unavailable: %v", repoID, err)
			return nil
		}
		prs, _ = v.([]models.PullRequest)
		return nil
	})
	g.Go(func() error {
		var err error
		rule, err = s.store.GetBranchNamingRule(repoID)
		return err
	})
	g.Go(func() error {
		sp, err := s.store.GetTreeSpec(repoID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		spec = sp
		return nil
	})
	g.Go(func() error {
		p, err := s.store.GetRepoPin(repoID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		pin = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	defaultBranch := s.defaultBranch(ctx, localPath, branches, pin)

	snapshot := &models.ScanSnapshot{
		RepoID:        repoID,
		DefaultBranch: defaultBranch,
		Branches:      branches,
		Worktrees:     worktrees,
		TreeSpec:      spec,
	}
	if rule != nil {
		snapshot.Rules = &models.RepoRules{BranchNaming: rule}
	}

	snapshot.Edges = inferEdges(branches, defaultBranch, spec)
	assertAcyclic(snapshot.Edges)

	prByBranch := make(map[string]*models.PullRequest, len(prs))
	for i := range prs {
		prByBranch[prs[i].Branch] = &prs[i]
	}
	wtByBranch := make(map[string]*models.Worktree, len(worktrees))
	for i := range worktrees {
		if worktrees[i].Branch != "" {
			wtByBranch[worktrees[i].Branch] = &worktrees[i]
		}
	}

	snapshot.Nodes = s.buildNodes(ctx, localPath, branches, defaultBranch, prByBranch, wtByBranch)
	snapshot.Warnings = collectWarnings(snapshot, rule)
	snapshot.Restart = restartHint(snapshot)
	if snapshot.Warnings == nil {
		snapshot.Warnings = []models.Warning{}
	}

	s.bus.Broadcast(events.Event{
		Type:    events.ScanUpdated,
		RepoID:  repoID,
		Payload: snapshot,
	})
	return snapshot, nil
}

func (s *Scanner) repoID(ctx context.Context, localPath string) string {
	v, err := s.cache.GetOrFetch("repoid:"+localPath, repoIDTTL, func() (any, error) {
		return s.vcs.RepoID(ctx, localPath), nil
	})
	if err != nil {
		return s.vcs.RepoID(ctx, localPath)
	}
	return v.(string)
}

// defaultBranch prefers the user's pin when it still names a real branch.
func (s *Scanner) defaultBranch(ctx context.Context, localPath string, branches []models.Branch, pin *models.RepoPin) string {
	if pin != nil {
		for _, b := range branches {
			if b.Name == pin.BaseBranch {
				return pin.BaseBranch
			}
		}
	}
	return s.vcs.DefaultBranch(ctx, localPath)
}

func (s *Scanner) buildNodes(ctx context.Context, localPath string, branches []models.Branch,
	defaultBranch string, prByBranch map[string]*models.PullRequest, wtByBranch map[string]*models.Worktree) []models.TreeNode {

	nodes := make([]models.TreeNode, 0, len(branches))
	for _, b := range branches {
		node := models.TreeNode{
			BranchName:   b.Name,
			Badges:       []models.Badge{},
			LastCommitAt: b.LastCommitAt,
			PR:           prByBranch[b.Name],
			Worktree:     wtByBranch[b.Name],
		}
		if b.Name != defaultBranch {
			if ab, err := s.vcs.AheadBehind(ctx, localPath, defaultBranch, b.Name); err == nil {
				node.AheadBehind = &ab
			}
		}
		node.Badges = badges(&node)
		nodes = append(nodes, node)
	}
	return nodes
}

// badges derives per-node markers from worktree and PR state.
func badges(node *models.TreeNode) []models.Badge {
	out := []models.Badge{}
	if node.Worktree != nil && node.Worktree.Dirty {
		out = append(out, models.BadgeDirty)
	}
	if node.Worktree != nil && node.Worktree.Active {
		out = append(out, models.BadgeActive)
	}
	if pr := node.PR; pr != nil {
		if strings.EqualFold(pr.State, "merged") {
			out = append(out, models.BadgePRMerged)
		} else {
			out = append(out, models.BadgePR)
		}
		if pr.Draft {
			out = append(out, models.BadgeDraft)
		}
		switch pr.Checks {
		case models.ChecksSuccess:
			out = append(out, models.BadgeCIPass)
		case models.ChecksFailure:
			out = append(out, models.BadgeCIFail)
		}
		switch strings.ToUpper(pr.ReviewDecision) {
		case "APPROVED":
			out = append(out, models.BadgeApproved)
		case "CHANGES_REQUESTED":
			out = append(out, models.BadgeChangesRequested)
		}
	}
	return out
}
