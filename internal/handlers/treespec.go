package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
)

var treeSpecSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"baseBranch": {"type": "string"},
		"nodes": {"type": "array", "items": {
			"type": "object",
			"required": ["id", "title"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"title": {"type": "string", "minLength": 1}
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

var repoIDSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1}
	}
}`)

// TreeSpecHandler serves the per-repo tree spec document and its
// draft/confirmed transitions.
type TreeSpecHandler struct {
	store *store.Store
	bus   *events.Bus
}

// NewTreeSpecHandler creates a tree spec handler.
func NewTreeSpecHandler(st *store.Store, bus *events.Bus) *TreeSpecHandler {
	return &TreeSpecHandler{store: st, bus: bus}
}

// RegisterRoutes registers tree spec routes.
func (h *TreeSpecHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/tree-spec", h.Get)
	api.Post("/tree-spec", h.Upsert)
	api.Post("/tree-spec/confirm", h.Confirm)
	api.Post("/tree-spec/unconfirm", h.Unconfirm)
}

// Get returns the repo's tree spec.
func (h *TreeSpecHandler) Get(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	spec, err := h.store.GetTreeSpec(repoID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(spec)
}

// Upsert saves the spec document. Saving always resets status to draft;
// confirmation is a separate transition.
func (h *TreeSpecHandler) Upsert(c *fiber.Ctx) error {
	var spec models.TreeSpec
	if err := parseBody(c, treeSpecSchema, &spec); err != nil {
		return nil
	}
	spec.Status = models.SpecDraft
	if err := h.store.SaveTreeSpec(&spec); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{Type: events.PlanUpdated, RepoID: spec.RepoID, Payload: &spec})
	return c.JSON(&spec)
}

// Confirm transitions draft → confirmed. The spec must name a base branch
// and contain at least one node and one root.
func (h *TreeSpecHandler) Confirm(c *fiber.Ctx) error {
	var req struct {
		RepoID string `json:"repoId"`
	}
	if err := parseBody(c, repoIDSchema, &req); err != nil {
		return nil
	}

	spec, err := h.store.GetTreeSpec(req.RepoID)
	if err != nil {
		return writeError(c, err)
	}
	switch {
	case spec.BaseBranch == "":
		return badRequest(c, "baseBranch", "a base branch is required to confirm")
	case len(spec.Nodes) == 0:
		return badRequest(c, "nodes", "at least one node is required to confirm")
	case len(spec.Roots()) == 0:
		return badRequest(c, "edges", "at least one root node is required to confirm")
	}

	if err := h.store.SetTreeSpecStatus(req.RepoID, models.SpecConfirmed); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{Type: events.PlanUpdated, RepoID: req.RepoID})
	return c.JSON(fiber.Map{"status": models.SpecConfirmed})
}

// Unconfirm transitions confirmed → draft. Reversible and non-destructive.
func (h *TreeSpecHandler) Unconfirm(c *fiber.Ctx) error {
	var req struct {
		RepoID string `json:"repoId"`
	}
	if err := parseBody(c, repoIDSchema, &req); err != nil {
		return nil
	}
	if err := h.store.SetTreeSpecStatus(req.RepoID, models.SpecDraft); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{Type: events.PlanUpdated, RepoID: req.RepoID})
	return c.JSON(fiber.Map{"status": models.SpecDraft})
}
