package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
)

var planningSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "title"],
	"properties": {
		"id": {"type": "string"},
		"repoId": {"type": "string", "minLength": 1},
		"title": {"type": "string", "minLength": 1},
		"baseBranch": {"type": "string"},
		"nodes": {"type": "array"},
		"edges": {"type": "array"}
	}
}`)

// PlanningHandler serves planning-session CRUD and status transitions.
type PlanningHandler struct {
	store *store.Store
	bus   *events.Bus
}

// NewPlanningHandler creates a planning handler.
func NewPlanningHandler(st *store.Store, bus *events.Bus) *PlanningHandler {
	return &PlanningHandler{store: st, bus: bus}
}

// RegisterRoutes registers planning session routes.
func (h *PlanningHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/planning-sessions", h.List)
	api.Post("/planning-sessions", h.Save)
	api.Get("/planning-sessions/:id", h.Get)
	api.Post("/planning-sessions/:id/confirm", h.Confirm)
	api.Post("/planning-sessions/:id/unconfirm", h.Unconfirm)
	api.Post("/planning-sessions/:id/discard", h.Discard)
	api.Delete("/planning-sessions/:id", h.Delete)
}

// List returns sessions, optionally filtered by repoId.
func (h *PlanningHandler) List(c *fiber.Ctx) error {
	sessions, err := h.store.ListPlanningSessions(c.Query("repoId"))
	if err != nil {
		return writeError(c, err)
	}
	if sessions == nil {
		sessions = []models.PlanningSession{}
	}
	return c.JSON(sessions)
}

// Save upserts a session document.
func (h *PlanningHandler) Save(c *fiber.Ctx) error {
	var ps models.PlanningSession
	if err := parseBody(c, planningSchema, &ps); err != nil {
		return nil
	}
	if err := h.store.SavePlanningSession(&ps); err != nil {
		return writeError(c, err)
	}
	h.broadcast(&ps)
	return c.JSON(&ps)
}

// Get loads one session.
func (h *PlanningHandler) Get(c *fiber.Ctx) error {
	ps, err := h.store.GetPlanningSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ps)
}

// Confirm transitions draft → confirmed. Non-destructive and reversible.
func (h *PlanningHandler) Confirm(c *fiber.Ctx) error {
	return h.transition(c, models.PlanConfirmed)
}

// Unconfirm transitions confirmed → draft.
func (h *PlanningHandler) Unconfirm(c *fiber.Ctx) error {
	return h.transition(c, models.PlanDraft)
}

// Discard marks a session discarded without deleting it.
func (h *PlanningHandler) Discard(c *fiber.Ctx) error {
	return h.transition(c, models.PlanDiscarded)
}

func (h *PlanningHandler) transition(c *fiber.Ctx, status models.PlanStatus) error {
	id := c.Params("id")
	if err := h.store.SetPlanningStatus(id, status); err != nil {
		return writeError(c, err)
	}
	ps, err := h.store.GetPlanningSession(id)
	if err != nil {
		return writeError(c, err)
	}
	h.broadcast(ps)
	return c.JSON(ps)
}

// Delete removes a session row.
func (h *PlanningHandler) Delete(c *fiber.Ctx) error {
	ps, err := h.store.GetPlanningSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.store.DeletePlanningSession(ps.ID); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{Type: events.PlanUpdated, RepoID: ps.RepoID, PlanningSessionID: ps.ID})
	return c.JSON(fiber.Map{"deleted": ps.ID})
}

func (h *PlanningHandler) broadcast(ps *models.PlanningSession) {
	h.bus.Broadcast(events.Event{
		Type:              events.PlanUpdated,
		RepoID:            ps.RepoID,
		PlanningSessionID: ps.ID,
		Payload:           ps,
	})
}
