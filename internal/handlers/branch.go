package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/branch"
	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/scanner"
	"github.com/vibetree/vibetree/internal/tree"
	"github.com/vibetree/vibetree/internal/vcs"
)

var branchOpSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["localPath", "branchName"],
	"properties": {
		"localPath": {"type": "string", "minLength": 1},
		"branchName": {"type": "string", "minLength": 1},
		"baseBranch": {"type": "string"},
		"parentBranch": {"type": "string"},
		"force": {"type": "boolean"}
	}
}`)

var cleanupSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["localPath"],
	"properties": {
		"localPath": {"type": "string", "minLength": 1}
	}
}`)

var createTreeSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["localPath", "tasks"],
	"properties": {
		"localPath": {"type": "string", "minLength": 1},
		"baseBranch": {"type": "string"},
		"createPRs": {"type": "boolean"},
		"tasks": {"type": "array", "minItems": 1, "items": {
			"type": "object",
			"required": ["id", "branchName", "title"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"branchName": {"type": "string", "minLength": 1},
				"parentBranch": {"type": "string"},
				"worktreeName": {"type": "string"},
				"title": {"type": "string", "minLength": 1},
				"description": {"type": "string"}
			}
		}},
		"edges": {"type": "array", "items": {
			"type": "object",
			"required": ["from", "to"],
			"properties": {
				"from": {"type": "string", "minLength": 1},
				"to": {"type": "string", "minLength": 1}
			}
		}}
	}
}`)

// branchOpRequest is the shared body shape of the branch mutations.
type branchOpRequest struct {
	LocalPath    string `json:"localPath"`
	BranchName   string `json:"branchName"`
	BaseBranch   string `json:"baseBranch"`
	ParentBranch string `json:"parentBranch"`
	Force        bool   `json:"force"`
}

// BranchHandler serves branch mutations and tree materialization.
type BranchHandler struct {
	service      *branch.Service
	materializer *tree.Materializer
	vcs          *vcs.Client
	cache        *cache.Cache
}

// NewBranchHandler creates a branch handler.
func NewBranchHandler(svc *branch.Service, mat *tree.Materializer, v *vcs.Client, c *cache.Cache) *BranchHandler {
	return &BranchHandler{service: svc, materializer: mat, vcs: v, cache: c}
}

// RegisterRoutes registers branch routes.
func (h *BranchHandler) RegisterRoutes(api fiber.Router) {
	api.Post("/branch/create", h.Create)
	api.Post("/branch/create-worktree", h.CreateWorktree)
	api.Post("/branch/create-tree", h.CreateTree)
	api.Post("/branch/checkout", h.Checkout)
	api.Post("/branch/pull", h.Pull)
	api.Post("/branch/rebase", h.Rebase)
	api.Post("/branch/merge-parent", h.MergeParent)
	api.Post("/branch/push", h.Push)
	api.Post("/branch/check-deletable", h.CheckDeletable)
	api.Post("/branch/delete", h.Delete)
	api.Post("/branch/delete-worktree", h.DeleteWorktree)
	api.Post("/branch/cleanup-orphaned", h.CleanupOrphaned)
}

// repoID resolves and memoizes the repo id for a local path, sharing the
// scanner's cache key.
func (h *BranchHandler) repoID(c *fiber.Ctx, localPath string) string {
	ctx, cancel := requestContext(c, vcs.NetworkTimeout)
	defer cancel()
	v, err := h.cache.GetOrFetch("repoid:"+localPath, 5*time.Minute, func() (any, error) {
		return h.vcs.RepoID(ctx, localPath), nil
	})
	if err != nil {
		return h.vcs.RepoID(ctx, localPath)
	}
	return v.(string)
}

func (h *BranchHandler) branchOp(c *fiber.Ctx,
	op func(ctx *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error) error {

	var req branchOpRequest
	if err := parseBody(c, branchOpSchema, &req); err != nil {
		return nil
	}
	localPath := scanner.ExpandPath(req.LocalPath)
	return op(c, &req, h.repoID(c, localPath), localPath)
}

// Create makes a new branch off baseBranch.
func (h *BranchHandler) Create(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.LocalTimeout)
		defer cancel()
		if err := h.service.Create(ctx, repoID, localPath, req.BranchName, req.BaseBranch); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// CreateWorktree adds a worktree for an existing branch.
func (h *BranchHandler) CreateWorktree(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.LocalTimeout)
		defer cancel()
		path, err := h.service.CreateWorktree(ctx, repoID, localPath, req.BranchName)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"worktreePath": path})
	})
}

// CreateTree materializes a task tree into branches, worktrees and PRs.
func (h *BranchHandler) CreateTree(c *fiber.Ctx) error {
	var req struct {
		LocalPath  string                   `json:"localPath"`
		BaseBranch string                   `json:"baseBranch"`
		CreatePRs  bool                     `json:"createPRs"`
		Tasks      []models.MaterializeTask `json:"tasks"`
		Edges      []models.PlanEdge        `json:"edges"`
	}
	if err := parseBody(c, createTreeSchema, &req); err != nil {
		return nil
	}
	localPath := scanner.ExpandPath(req.LocalPath)

	// Each task may involve a push and a PR; the batch budget scales with
	// the task count.
	ctx, cancel := requestContext(c, time.Duration(len(req.Tasks)+1)*vcs.NetworkTimeout)
	defer cancel()

	summary, err := h.materializer.Materialize(ctx, &tree.Request{
		RepoID:     h.repoID(c, localPath),
		LocalPath:  localPath,
		BaseBranch: req.BaseBranch,
		Tasks:      req.Tasks,
		Edges:      req.Edges,
		CreatePRs:  req.CreatePRs,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(summary)
}

// Checkout switches the main working tree to the branch.
func (h *BranchHandler) Checkout(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.LocalTimeout)
		defer cancel()
		if err := h.service.Checkout(ctx, repoID, localPath, req.BranchName); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// Pull updates the branch from origin.
func (h *BranchHandler) Pull(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.NetworkTimeout)
		defer cancel()
		if err := h.service.Pull(ctx, repoID, localPath, req.BranchName); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// Rebase rebases the branch onto its parent.
func (h *BranchHandler) Rebase(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		if req.ParentBranch == "" {
			return badRequest(c, "parentBranch", "parentBranch is required")
		}
		ctx, cancel := requestContext(c, 2*vcs.NetworkTimeout)
		defer cancel()
		if err := h.service.Rebase(ctx, repoID, localPath, req.BranchName, req.ParentBranch); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// MergeParent merges the parent branch in.
func (h *BranchHandler) MergeParent(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		if req.ParentBranch == "" {
			return badRequest(c, "parentBranch", "parentBranch is required")
		}
		ctx, cancel := requestContext(c, 2*vcs.NetworkTimeout)
		defer cancel()
		if err := h.service.MergeParent(ctx, repoID, localPath, req.BranchName, req.ParentBranch); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// Push pushes the branch to origin.
func (h *BranchHandler) Push(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.NetworkTimeout)
		defer cancel()
		if err := h.service.Push(ctx, repoID, localPath, req.BranchName, req.Force); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName, "forced": req.Force})
	})
}

// CheckDeletable reports whether the branch passes the delete preconditions.
func (h *BranchHandler) CheckDeletable(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.NetworkTimeout)
		defer cancel()
		return c.JSON(h.service.CheckDeletable(ctx, repoID, localPath, req.BranchName, req.BaseBranch))
	})
}

// Delete removes a branch with its worktree, remote copy and stored data.
func (h *BranchHandler) Delete(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, 2*vcs.NetworkTimeout)
		defer cancel()
		if err := h.service.Delete(ctx, repoID, localPath, req.BranchName, req.BaseBranch, req.Force); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"deleted": req.BranchName})
	})
}

// DeleteWorktree removes the branch's worktree, keeping the branch.
func (h *BranchHandler) DeleteWorktree(c *fiber.Ctx) error {
	return h.branchOp(c, func(c *fiber.Ctx, req *branchOpRequest, repoID, localPath string) error {
		ctx, cancel := requestContext(c, vcs.LocalTimeout)
		defer cancel()
		if err := h.service.DeleteWorktree(ctx, repoID, localPath, req.BranchName); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"branchName": req.BranchName})
	})
}

// CleanupOrphaned sweeps stored rows whose branch is gone.
func (h *BranchHandler) CleanupOrphaned(c *fiber.Ctx) error {
	var req struct {
		LocalPath string `json:"localPath"`
	}
	if err := parseBody(c, cleanupSchema, &req); err != nil {
		return nil
	}
	localPath := scanner.ExpandPath(req.LocalPath)

	ctx, cancel := requestContext(c, vcs.LocalTimeout)
	defer cancel()

	n, err := h.service.CleanupOrphaned(ctx, h.repoID(c, localPath), localPath)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"cleaned": n})
}
