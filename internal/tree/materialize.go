// Package tree turns a confirmed task tree into branches, worktrees, chat
// sessions and optionally pull requests, parents before children.
package tree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/config"
	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/vcs"
)

const postCreateTimeout = 2 * time.Minute

// Materializer executes materialization batches. One batch runs at a time
// per caller; tasks inside a batch run sequentially in topological order.
type Materializer struct {
	vcs   *vcs.Client
	store *store.Store
	cache *cache.Cache
	bus   *events.Bus
	cfg   *config.Config
	run   vcs.Runner
}

// New wires a materializer. run executes worktree override scripts.
func New(v *vcs.Client, st *store.Store, c *cache.Cache, bus *events.Bus, cfg *config.Config, run vcs.Runner) *Materializer {
	return &Materializer{vcs: v, store: st, cache: c, bus: bus, cfg: cfg, run: run}
}

// Request is one materialization batch.
type Request struct {
	RepoID     string                   `json:"repoId"`
	LocalPath  string                   `json:"localPath"`
	BaseBranch string                   `json:"baseBranch"`
	Tasks      []models.MaterializeTask `json:"tasks"`
	Edges      []models.PlanEdge        `json:"edges"`
	CreatePRs  bool                     `json:"createPRs"`
}

// Materialize runs the batch. A task failure is recorded and skips that
// task's descendants, never the rest of the batch. Returns per-task results
// plus totals.
func (m *Materializer) Materialize(ctx context.Context, req *Request) (*models.MaterializeSummary, error) {
	base := req.BaseBranch
	if base == "" {
		base = m.vcs.DefaultBranch(ctx, req.LocalPath)
	}

	existing, err := m.vcs.ListWorktrees(ctx, req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	worktreeByBranch := make(map[string]string, len(existing))
	for _, wt := range existing {
		if wt.Branch != "" {
			worktreeByBranch[wt.Branch] = wt.Path
		}
	}

	parentTask := make(map[string]string, len(req.Edges))
	for _, e := range req.Edges {
		parentTask[e.To] = e.From
	}

	summary := &models.MaterializeSummary{Total: len(req.Tasks)}
	// branchOf records the branch each succeeded task landed on, so children
	// branch off the parent that actually materialized.
	branchOf := make(map[string]string, len(req.Tasks))
	failed := make(map[string]bool, len(req.Tasks))

	for _, task := range topoSort(req.Tasks, req.Edges) {
		result := m.materializeTask(ctx, req, task, base, parentTask, branchOf, failed, worktreeByBranch)
		if result.Success {
			summary.Success++
			branchOf[task.ID] = result.BranchName
			worktreeByBranch[result.BranchName] = result.WorktreePath
		} else {
			summary.Failed++
			failed[task.ID] = true
		}
		summary.Results = append(summary.Results, result)
	}

	if summary.Success > 0 {
		if err := m.store.SetTreeSpecStatus(req.RepoID, models.SpecGenerated); err != nil && err != store.ErrNotFound {
			logger.Warnf("materialize %s: marking spec generated: %v", req.RepoID, err)
		}
	}

	m.cache.InvalidateByPrefix("prs:" + req.RepoID)
	m.bus.Broadcast(events.Event{
		Type:    events.BranchesChanged,
		RepoID:  req.RepoID,
		Payload: summary,
	})
	return summary, nil
}

func (m *Materializer) materializeTask(ctx context.Context, req *Request, task models.MaterializeTask,
	base string, parentTask, branchOf map[string]string, failed map[string]bool,
	worktreeByBranch map[string]string) models.MaterializeResult {

	result := models.MaterializeResult{TaskID: task.ID, BranchName: task.BranchName}

	if !vcs.BranchNamePattern.MatchString(task.BranchName) {
		result.Error = fmt.Sprintf("invalid branch name %q", task.BranchName)
		return result
	}

	parentBranch := base
	if pid, ok := parentTask[task.ID]; ok {
		if failed[pid] {
			result.Error = fmt.Sprintf("parent task %s failed", pid)
			return result
		}
		if b, ok := branchOf[pid]; ok {
			parentBranch = b
		} else if task.ParentBranch != "" {
			parentBranch = task.ParentBranch
		}
	} else if task.ParentBranch != "" {
		parentBranch = task.ParentBranch
	}

	if !m.vcs.BranchExists(ctx, req.LocalPath, task.BranchName) {
		if err := m.vcs.CreateBranch(ctx, req.LocalPath, task.BranchName, parentBranch); err != nil {
			result.Error = fmt.Sprintf("creating branch off %s: %v", parentBranch, err)
			return result
		}
	}

	worktreePath, created, err := m.ensureWorktree(ctx, req, task, worktreeByBranch)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.WorktreePath = worktreePath

	overrides := m.cfg.RepoOverrides(req.RepoID)
	if created && overrides.PostCreateScript != "" {
		m.firePostCreate(overrides.PostCreateScript, worktreePath, task.BranchName, req.LocalPath)
	}

	chat, err := m.store.CreateChatSession(worktreePath, task.BranchName)
	if err != nil {
		result.Error = fmt.Sprintf("creating chat session: %v", err)
		return result
	}
	result.ChatSessionID = chat.ID
	result.Success = true

	if req.CreatePRs {
		m.ensurePR(ctx, req, task, parentBranch, &result)
	}
	return result
}

// ensureWorktree reuses the worktree already holding the branch or creates a
// new one under <parent>/<repo>-worktrees/. Reports whether it created one.
func (m *Materializer) ensureWorktree(ctx context.Context, req *Request, task models.MaterializeTask,
	worktreeByBranch map[string]string) (string, bool, error) {

	if path, ok := worktreeByBranch[task.BranchName]; ok {
		return path, false, nil
	}

	name := task.WorktreeName
	if name == "" {
		name = strings.ReplaceAll(task.BranchName, "/", "-")
	}
	root := WorktreesRoot(req.LocalPath)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", false, fmt.Errorf("creating worktrees dir: %w", err)
	}
	worktreePath := filepath.Join(root, name)

	overrides := m.cfg.RepoOverrides(req.RepoID)
	if overrides.WorktreeScript != "" {
		script := expandScript(overrides.WorktreeScript, worktreePath, task.BranchName, req.LocalPath)
		sctx, cancel := context.WithTimeout(ctx, vcs.NetworkTimeout)
		defer cancel()
		if _, err := m.run.Run(sctx, req.LocalPath, "sh", "-c", script); err != nil {
			return "", false, fmt.Errorf("worktree script: %w", err)
		}
		return worktreePath, true, nil
	}

	if _, err := m.vcs.WorktreeAdd(ctx, req.LocalPath, worktreePath, task.BranchName); err != nil {
		return "", false, fmt.Errorf("adding worktree: %w", err)
	}
	return worktreePath, true, nil
}

// ensurePR attaches a PR to the result: an existing one when the branch
// already has one, otherwise push then create. PR-path failures set
// PRSkipped and leave the task successful.
func (m *Materializer) ensurePR(ctx context.Context, req *Request, task models.MaterializeTask,
	parentBranch string, result *models.MaterializeResult) {

	if pr, err := m.vcs.PRForBranch(ctx, req.LocalPath, task.BranchName); err == nil && pr != nil {
		result.PRUrl = pr.URL
		result.PRNumber = pr.Number
		m.saveBranchLink(req.RepoID, task.BranchName, pr.URL, pr.Number, task.Title)
		return
	}

	if _, err := m.vcs.Push(ctx, req.LocalPath, task.BranchName, false); err != nil {
		logger.Warnf("materialize %s: pushing %s: %v", req.RepoID, task.BranchName, err)
		result.PRSkipped = true
		return
	}
	url, err := m.vcs.CreatePR(ctx, req.LocalPath, task.BranchName, parentBranch, task.Title, task.Description)
	if err != nil {
		logger.Warnf("materialize %s: creating PR for %s: %v", req.RepoID, task.BranchName, err)
		result.PRSkipped = true
		return
	}
	result.PRUrl = url
	result.PRNumber = prNumberFromURL(url)
	m.saveBranchLink(req.RepoID, task.BranchName, url, result.PRNumber, task.Title)
}

func (m *Materializer) saveBranchLink(repoID, branch, url string, number int, title string) {
	err := m.store.UpsertBranchLink(&models.BranchLink{
		RepoID:     repoID,
		BranchName: branch,
		LinkType:   models.BranchLinkPR,
		URL:        url,
		Number:     number,
		Title:      title,
	})
	if err != nil {
		logger.Warnf("materialize %s: saving branch link for %s: %v", repoID, branch, err)
	}
}

// firePostCreate runs the post-create script in the new worktree without
// blocking the batch. Failures are logged only.
func (m *Materializer) firePostCreate(script, worktreePath, branch, localPath string) {
	expanded := expandScript(script, worktreePath, branch, localPath)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), postCreateTimeout)
		defer cancel()
		if _, err := m.run.Run(ctx, worktreePath, "sh", "-c", expanded); err != nil {
			logger.Warnf("post-create script in %s: %v", worktreePath, err)
		}
	}()
}

// WorktreesRoot is the sibling directory that holds a repo's worktrees.
func WorktreesRoot(localPath string) string {
	return filepath.Join(filepath.Dir(localPath), filepath.Base(localPath)+"-worktrees")
}

func expandScript(script, worktreePath, branch, localPath string) string {
	r := strings.NewReplacer(
		"{worktreePath}", worktreePath,
		"{branchName}", branch,
		"{localPath}", localPath,
	)
	return r.Replace(script)
}

// prNumberFromURL extracts the trailing number of a PR URL, 0 when absent.
func prNumberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
