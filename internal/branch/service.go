// Package branch services branch mutations: create, sync, push, merge and
// the guarded delete with its cascade cleanup.
package branch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/vcs"
)

var (
	// ErrInvalidBranchName rejects names outside the accepted shape.
	ErrInvalidBranchName = errors.New("invalid branch name")
	// ErrBranchNotFound means the named branch does not exist locally.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrBranchExists means a create collided with an existing branch.
	ErrBranchExists = errors.New("branch already exists")
	// ErrWorktreeNotFound means no worktree has the branch checked out.
	ErrWorktreeNotFound = errors.New("no worktree for branch")
	// ErrDiverged means a pull could not fast-forward.
	ErrDiverged = errors.New("branch has diverged from origin, checkout and merge manually")
	// ErrDirty rejects a mutation on a working tree with uncommitted changes.
	ErrDirty = errors.New("working tree has uncommitted changes")
	// ErrAlreadyCheckedOut rejects a checkout of the current branch.
	ErrAlreadyCheckedOut = errors.New("branch is already checked out")
	// ErrNotDeletable carries the reason a guarded delete refused.
	ErrNotDeletable = errors.New("branch is not deletable")
)

// Deletability reason codes.
const (
	ReasonBranchNotFound = "branch_not_found"
	ReasonCheckedOut     = "currently_checked_out"
	ReasonPushedToRemote = "pushed_to_remote"
	ReasonHasCommits     = "has_commits"
	ReasonCheckFailed    = "check_failed"
)

// Service owns branch mutations for local repositories. Mutations
// invalidate the repo's cached scan inputs and broadcast branches.changed.
type Service struct {
	vcs   *vcs.Client
	store *store.Store
	cache *cache.Cache
	bus   *events.Bus
}

// NewService wires a branch service.
func NewService(v *vcs.Client, st *store.Store, c *cache.Cache, bus *events.Bus) *Service {
	return &Service{vcs: v, store: st, cache: c, bus: bus}
}

// Create makes a branch off base without checking it out.
func (s *Service) Create(ctx context.Context, repoID, localPath, name, base string) error {
	if !vcs.BranchNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidBranchName, name)
	}
	if s.vcs.BranchExists(ctx, localPath, name) {
		return fmt.Errorf("%w: %q", ErrBranchExists, name)
	}
	if base == "" {
		base = s.vcs.DefaultBranch(ctx, localPath)
	}
	if err := s.vcs.CreateBranch(ctx, localPath, name, base); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

// CreateWorktree adds a worktree for an existing branch under the repo's
// worktrees directory and returns its path. Branch slashes become dashes in
// the directory name.
func (s *Service) CreateWorktree(ctx context.Context, repoID, localPath, name string) (string, error) {
	if !s.vcs.BranchExists(ctx, localPath, name) {
		return "", fmt.Errorf("%w: %q", ErrBranchNotFound, name)
	}
	if path, err := s.worktreeFor(ctx, localPath, name); err == nil && path != "" {
		return path, nil
	}
	root := filepath.Join(filepath.Dir(localPath), filepath.Base(localPath)+"-worktrees")
	path := filepath.Join(root, strings.ReplaceAll(name, "/", "-"))
	if _, err := s.vcs.WorktreeAdd(ctx, localPath, path, name); err != nil {
		return "", err
	}
	s.changed(repoID)
	return path, nil
}

// Checkout switches the main working tree to the branch. Requires a clean
// tree and a different current branch.
func (s *Service) Checkout(ctx context.Context, repoID, localPath, name string) error {
	if !s.vcs.BranchExists(ctx, localPath, name) {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, name)
	}
	if current, err := s.vcs.CurrentBranch(ctx, localPath); err == nil && current == name {
		return fmt.Errorf("%w: %q", ErrAlreadyCheckedOut, name)
	}
	if err := s.requireClean(ctx, localPath); err != nil {
		return err
	}
	if _, err := s.vcs.Checkout(ctx, localPath, name); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

// Pull updates the branch from origin. A checked-out branch pulls in its
// worktree; otherwise the branch ref fast-forwards via fetch. A
// non-fast-forward surfaces ErrDiverged.
func (s *Service) Pull(ctx context.Context, repoID, localPath, name string) error {
	path, err := s.worktreeFor(ctx, localPath, name)
	if err != nil {
		return err
	}
	if path != "" {
		if err := s.requireClean(ctx, path); err != nil {
			return err
		}
		if _, err := s.vcs.Pull(ctx, path); err != nil {
			return err
		}
	} else if _, err := s.vcs.FetchBranch(ctx, localPath, name); err != nil {
		// fetch b:b refuses non-fast-forward updates; other fetch failures
		// (network, missing remote) keep their subprocess error.
		var execErr *vcs.ExecError
		if errors.As(err, &execErr) && (strings.Contains(execErr.Stderr, "non-fast-forward") ||
			strings.Contains(execErr.Stderr, "rejected")) {
			return ErrDiverged
		}
		return err
	}
	s.changed(repoID)
	return nil
}

// Rebase rebases the branch's worktree onto its parent, preferring the
// remote parent ref when one exists. A conflicted rebase is aborted before
// the error returns.
func (s *Service) Rebase(ctx context.Context, repoID, localPath, name, parent string) error {
	path, err := s.worktreeFor(ctx, localPath, name)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: %q", ErrWorktreeNotFound, name)
	}
	if err := s.requireClean(ctx, path); err != nil {
		return err
	}
	onto := parent
	if _, err := s.vcs.Fetch(ctx, localPath, parent); err == nil && s.vcs.RefExists(ctx, localPath, "origin/"+parent) {
		onto = "origin/" + parent
	}
	if _, err := s.vcs.Rebase(ctx, path, onto); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

// MergeParent merges the parent branch into the branch's worktree, aborting
// on conflict.
func (s *Service) MergeParent(ctx context.Context, repoID, localPath, name, parent string) error {
	path, err := s.worktreeFor(ctx, localPath, name)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: %q", ErrWorktreeNotFound, name)
	}
	if err := s.requireClean(ctx, path); err != nil {
		return err
	}
	if _, err := s.vcs.Merge(ctx, path, parent); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

// Push pushes the branch to origin with upstream tracking. force maps to
// --force-with-lease.
func (s *Service) Push(ctx context.Context, repoID, localPath, name string, force bool) error {
	if !s.vcs.BranchExists(ctx, localPath, name) {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, name)
	}
	if _, err := s.vcs.Push(ctx, localPath, name, force); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

// Deletability is the outcome of a delete precondition check. Reason holds
// one of the reason codes above, nil when the branch is deletable.
type Deletability struct {
	Deletable bool    `json:"deletable"`
	Reason    *string `json:"reason"`
}

func blocked(reason string) Deletability {
	return Deletability{Reason: &reason}
}

// CheckDeletable evaluates the guarded-delete preconditions without
// mutating anything. A branch is deletable when it exists, is not checked
// out anywhere, has no remote copy and carries no commits past its parent.
// Checks run in that order and the first failing one wins. The parent comes
// from a tree-spec edge when one names the branch, else the base.
func (s *Service) CheckDeletable(ctx context.Context, repoID, localPath, name, base string) Deletability {
	if !s.vcs.BranchExists(ctx, localPath, name) {
		return blocked(ReasonBranchNotFound)
	}

	if path, err := s.worktreeFor(ctx, localPath, name); err != nil {
		return blocked(ReasonCheckFailed)
	} else if path != "" {
		return blocked(ReasonCheckedOut)
	}

	if onRemote, err := s.vcs.HasRemoteBranch(ctx, localPath, name); err != nil {
		return blocked(ReasonCheckFailed)
	} else if onRemote {
		return blocked(ReasonPushedToRemote)
	}

	parent := s.parentFor(ctx, repoID, localPath, name, base)
	if log, err := s.vcs.Log(ctx, localPath, parent, name); err != nil {
		return blocked(ReasonCheckFailed)
	} else if log != "" {
		return blocked(ReasonHasCommits)
	}

	return Deletability{Deletable: true}
}

// parentFor resolves the branch's parent: a tree-spec edge first, then the
// caller's base, then the spec's base branch, then the repo default.
func (s *Service) parentFor(ctx context.Context, repoID, localPath, name, base string) string {
	if spec, err := s.store.GetTreeSpec(repoID); err == nil {
		branchOf := make(map[string]string, len(spec.Nodes))
		var nodeID string
		for _, n := range spec.Nodes {
			branchOf[n.ID] = n.BranchName
			if n.BranchName == name {
				nodeID = n.ID
			}
		}
		if nodeID != "" {
			for _, e := range spec.Edges {
				if e.To == nodeID && branchOf[e.From] != "" {
					return branchOf[e.From]
				}
			}
		}
		if base == "" {
			base = spec.BaseBranch
		}
	}
	if base != "" {
		return base
	}
	return s.vcs.DefaultBranch(ctx, localPath)
}

// Delete removes a branch. Without force the preconditions must all hold;
// with force only existence is required. The branch's worktree is removed
// first, the remote copy is deleted best-effort, then the tree spec
// reparents the branch's children to their grandparent and the branch's
// stored data cascades away. Cascade failures are logged, not returned: git
// already deleted the branch.
func (s *Service) Delete(ctx context.Context, repoID, localPath, name, base string, force bool) error {
	if !s.vcs.BranchExists(ctx, localPath, name) {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, name)
	}
	if current, err := s.vcs.CurrentBranch(ctx, localPath); err == nil && current == name {
		return fmt.Errorf("cannot delete the current branch %q", name)
	}
	if !force {
		if d := s.CheckDeletable(ctx, repoID, localPath, name, base); !d.Deletable {
			return fmt.Errorf("%w: %s", ErrNotDeletable, *d.Reason)
		}
	}

	if path, err := s.worktreeFor(ctx, localPath, name); err == nil && path != "" {
		if _, err := s.vcs.WorktreeRemove(ctx, localPath, path); err != nil {
			return fmt.Errorf("removing worktree %s: %w", path, err)
		}
	}

	if _, err := s.vcs.DeleteBranch(ctx, localPath, name, force); err != nil {
		return err
	}

	if onRemote, err := s.vcs.HasRemoteBranch(ctx, localPath, name); err == nil && onRemote {
		if _, err := s.vcs.DeleteRemoteBranch(ctx, localPath, name); err != nil {
			logger.Warnf("delete %s: removing remote branch %s: %v", repoID, name, err)
		}
	}

	if err := s.store.ReparentAfterBranchDelete(repoID, name); err != nil {
		logger.Errorf("delete %s: reparenting after %s: %v", repoID, name, err)
	}
	if err := s.store.DeleteBranchData(repoID, name); err != nil {
		logger.Errorf("delete %s: cascading data for %s: %v", repoID, name, err)
	}

	s.changed(repoID)
	return nil
}

// DeleteWorktree removes a branch's worktree but keeps the branch.
func (s *Service) DeleteWorktree(ctx context.Context, repoID, localPath, name string) error {
	path, err := s.worktreeFor(ctx, localPath, name)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: %q", ErrWorktreeNotFound, name)
	}
	if err := s.requireClean(ctx, path); err != nil {
		return err
	}
	if _, err := s.vcs.WorktreeRemove(ctx, localPath, path); err != nil {
		return err
	}
	s.changed(repoID)
	return nil
}

func (s *Service) requireClean(ctx context.Context, path string) error {
	dirty, err := s.vcs.IsDirty(ctx, path)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w at %s", ErrDirty, path)
	}
	return nil
}

// CleanupOrphaned drops stored rows whose branch no longer exists and
// returns how many branches were swept.
func (s *Service) CleanupOrphaned(ctx context.Context, repoID, localPath string) (int, error) {
	branches, err := s.vcs.ListBranches(ctx, localPath)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	n, err := s.store.DeleteOrphanedBranchData(repoID, names)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.changed(repoID)
	}
	return n, nil
}

// worktreeFor returns the path of the worktree with the branch checked out,
// empty when none. The main working tree counts.
func (s *Service) worktreeFor(ctx context.Context, localPath, name string) (string, error) {
	worktrees, err := s.vcs.ListWorktrees(ctx, localPath)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == name {
			return wt.Path, nil
		}
	}
	return "", nil
}

func (s *Service) changed(repoID string) {
	s.cache.InvalidateByPrefix("prs:" + repoID)
	s.bus.Broadcast(events.Event{
		Type:   events.BranchesChanged,
		RepoID: repoID,
		Payload: map[string]any{
			"repoId": repoID,
		},
	})
}
