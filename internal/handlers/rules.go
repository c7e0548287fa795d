package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/scanner"
	"github.com/vibetree/vibetree/internal/store"
)

var projectRulesSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"branchNaming": {
			"type": ["object", "null"],
			"required": ["pattern"],
			"properties": {
				"pattern": {"type": "string", "minLength": 1},
				"description": {"type": "string"},
				"examples": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`)

// RulesHandler serves per-repo project rules.
type RulesHandler struct {
	store *store.Store
}

// NewRulesHandler creates a rules handler.
func NewRulesHandler(st *store.Store) *RulesHandler {
	return &RulesHandler{store: st}
}

// RegisterRoutes registers project rule routes.
func (h *RulesHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/project-rules", h.Get)
	api.Post("/project-rules", h.Set)
}

// Get returns the repo's rules; branchNaming is null when unset.
func (h *RulesHandler) Get(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	rule, err := h.store.GetBranchNamingRule(repoID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"repoId": repoID, "branchNaming": rule})
}

// Set stores the repo's rules. The naming pattern must compile.
func (h *RulesHandler) Set(c *fiber.Ctx) error {
	var req struct {
		RepoID       string                   `json:"repoId"`
		BranchNaming *models.BranchNamingRule `json:"branchNaming"`
	}
	if err := parseBody(c, projectRulesSchema, &req); err != nil {
		return nil
	}
	if req.BranchNaming != nil {
		if _, err := scanner.CompileNamingPattern(req.BranchNaming.Pattern); err != nil {
			return badRequest(c, "branchNaming.pattern", err.Error())
		}
	}
	if err := h.store.SetBranchNamingRule(req.RepoID, req.BranchNaming); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"repoId": req.RepoID, "branchNaming": req.BranchNaming})
}
