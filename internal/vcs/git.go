package vcs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vibetree/vibetree/internal/models"
)

// BranchNamePattern is the only shape of branch name the surface accepts.
var BranchNamePattern = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)

// Client wraps the git binary and the gh CLI. It holds no state; every
// operation builds an argv, executes it in a working directory with a
// bounded timeout and parses the output into a typed record.
type Client struct {
	run Runner
}

// NewClient creates an adapter over the given runner.
func NewClient(run Runner) *Client {
	return &Client{run: run}
}

func (c *Client) git(ctx context.Context, timeout time.Duration, dir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.run.Run(ctx, dir, "git", args...)
}

// ListBranches returns local branches sorted by committer date descending.
func (c *Client) ListBranches(ctx context.Context, repoPath string) ([]models.Branch, error) {
	out, err := c.git(ctx, LocalTimeout, repoPath,
		"for-each-ref", "--sort=-committerdate",
		"--format=%(refname:short)\t%(objectname)\t%(committerdate:iso8601-strict)",
		"refs/heads/")
	if err != nil {
		return nil, err
	}

	var branches []models.Branch
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("unexpected for-each-ref line %q", line)
		}
		at, err := time.Parse(time.RFC3339, parts[2])
		if err != nil {
			return nil, fmt.Errorf("parsing committer date %q: %w", parts[2], err)
		}
		branches = append(branches, models.Branch{
			Name:         parts[0],
			Commit:       parts[1],
			LastCommitAt: at,
		})
	}
	return branches, nil
}

// ListWorktrees parses `git worktree list --porcelain` and probes each
// worktree for uncommitted changes.
func (c *Client) ListWorktrees(ctx context.Context, repoPath string) ([]models.Worktree, error) {
	out, err := c.git(ctx, LocalTimeout, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []models.Worktree
	var current *models.Worktree
	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
			current = nil
		}
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &models.Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()

	for i := range worktrees {
		dirty, err := c.IsDirty(ctx, worktrees[i].Path)
		if err == nil {
			worktrees[i].Dirty = dirty
		}
	}
	return worktrees, nil
}

// IsDirty reports whether the working tree at path has uncommitted changes.
func (c *Client) IsDirty(ctx context.Context, path string) (bool, error) {
	out, err := c.git(ctx, LocalTimeout, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// CurrentBranch returns the branch checked out at path, empty on detached
// HEAD.
func (c *Client) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := c.git(ctx, LocalTimeout, path, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		if _, ok := err.(*ExecError); ok {
			return "", nil // detached
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, err := c.git(ctx, LocalTimeout, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// RefExists reports whether any ref resolves, e.g. origin/<branch>.
func (c *Client) RefExists(ctx context.Context, repoPath, ref string) bool {
	_, err := c.git(ctx, LocalTimeout, repoPath, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// AheadBehind computes the left-right rev-list count of branch against base.
func (c *Client) AheadBehind(ctx context.Context, repoPath, base, branch string) (models.AheadBehind, error) {
	out, err := c.git(ctx, LocalTimeout, repoPath,
		"rev-list", "--left-right", "--count", base+"..."+branch)
	if err != nil {
		return models.AheadBehind{}, err
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return models.AheadBehind{}, fmt.Errorf("unexpected rev-list output %q", string(out))
	}
	behind, err := strconv.Atoi(fields[0])
	if err != nil {
		return models.AheadBehind{}, fmt.Errorf("unexpected rev-list output %q", string(out))
	}
	ahead, err := strconv.Atoi(fields[1])
	if err != nil {
		return models.AheadBehind{}, fmt.Errorf("unexpected rev-list output %q", string(out))
	}
	return models.AheadBehind{Ahead: ahead, Behind: behind}, nil
}

// DefaultBranch resolves the repo's default branch: origin/HEAD first, then
// the hosting CLI, then a name heuristic, then the first branch.
func (c *Client) DefaultBranch(ctx context.Context, repoPath string) string {
	if out, err := c.git(ctx, LocalTimeout, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(string(out))
		if name := strings.TrimPrefix(ref, "refs/remotes/origin/"); name != ref && name != "" {
			return name
		}
	}

	if name, err := c.ghDefaultBranch(ctx, repoPath); err == nil && name != "" {
		return name
	}

	branches, err := c.ListBranches(ctx, repoPath)
	if err != nil || len(branches) == 0 {
		return "main"
	}
	names := make(map[string]bool, len(branches))
	for _, b := range branches {
		names[b.Name] = true
	}
	for _, candidate := range []string{"main", "master", "develop"} {
		if names[candidate] {
			return candidate
		}
	}
	return branches[0].Name
}

// Log returns the one-line log of parent..branch.
func (c *Client) Log(ctx context.Context, repoPath, parent, branch string) (string, error) {
	out, err := c.git(ctx, LocalTimeout, repoPath, "log", "--oneline", parent+".."+branch)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// HasRemoteBranch tests ls-remote --heads origin <branch>.
func (c *Client) HasRemoteBranch(ctx context.Context, repoPath, branch string) (bool, error) {
	out, err := c.git(ctx, NetworkTimeout, repoPath, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// RemoteOriginURL returns the origin remote URL.
func (c *Client) RemoteOriginURL(ctx context.Context, repoPath string) (string, error) {
	out, err := c.git(ctx, LocalTimeout, repoPath, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateBranch creates branch off base without checking it out.
func (c *Client) CreateBranch(ctx context.Context, repoPath, branch, base string) error {
	_, err := c.git(ctx, LocalTimeout, repoPath, "branch", branch, base)
	return err
}

// DeleteBranch removes a local branch, -D when force is set.
func (c *Client) DeleteBranch(ctx context.Context, repoPath, branch string, force bool) ([]byte, error) {
	flag := "-d"
	if force {
		flag = "-D"
	}
	return c.git(ctx, LocalTimeout, repoPath, "branch", flag, branch)
}

// DeleteRemoteBranch removes the branch from origin.
func (c *Client) DeleteRemoteBranch(ctx context.Context, repoPath, branch string) ([]byte, error) {
	return c.git(ctx, NetworkTimeout, repoPath, "push", "origin", "--delete", branch)
}

// WorktreeAdd creates a worktree for an existing branch.
func (c *Client) WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch string) ([]byte, error) {
	return c.git(ctx, LocalTimeout, repoPath, "worktree", "add", worktreePath, branch)
}

// WorktreeRemove removes a worktree registration and its directory.
func (c *Client) WorktreeRemove(ctx context.Context, repoPath, worktreePath string) ([]byte, error) {
	return c.git(ctx, LocalTimeout, repoPath, "worktree", "remove", worktreePath)
}

// Checkout switches the working tree at path to branch.
func (c *Client) Checkout(ctx context.Context, path, branch string) ([]byte, error) {
	return c.git(ctx, LocalTimeout, path, "checkout", branch)
}

// Pull runs a plain pull in the working tree at path.
func (c *Client) Pull(ctx context.Context, path string) ([]byte, error) {
	return c.git(ctx, NetworkTimeout, path, "pull")
}

// FetchBranch fast-forwards a non-checked-out branch via
// `fetch origin <branch>:<branch>`.
func (c *Client) FetchBranch(ctx context.Context, repoPath, branch string) ([]byte, error) {
	return c.git(ctx, NetworkTimeout, repoPath, "fetch", "origin", branch+":"+branch)
}

// Fetch updates a single remote ref.
func (c *Client) Fetch(ctx context.Context, repoPath, branch string) ([]byte, error) {
	return c.git(ctx, NetworkTimeout, repoPath, "fetch", "origin", branch)
}

// Rebase rebases the working tree at path onto the given ref. On failure the
// in-progress rebase is aborted before the error is returned.
func (c *Client) Rebase(ctx context.Context, path, onto string) ([]byte, error) {
	out, err := c.git(ctx, NetworkTimeout, path, "rebase", onto)
	if err != nil {
		_, _ = c.git(ctx, LocalTimeout, path, "rebase", "--abort")
	}
	return out, err
}

// Merge merges ref into the working tree at path with --no-edit, aborting
// on conflict.
func (c *Client) Merge(ctx context.Context, path, ref string) ([]byte, error) {
	out, err := c.git(ctx, NetworkTimeout, path, "merge", "--no-edit", ref)
	if err != nil {
		_, _ = c.git(ctx, LocalTimeout, path, "merge", "--abort")
	}
	return out, err
}

// Push pushes branch to origin, setting upstream. force uses
// --force-with-lease, never a bare --force.
func (c *Client) Push(ctx context.Context, path, branch string, force bool) ([]byte, error) {
	args := []string{"push", "-u", "origin", branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	return c.git(ctx, NetworkTimeout, path, args...)
}
