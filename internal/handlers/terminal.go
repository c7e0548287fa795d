package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/pty"
	"github.com/vibetree/vibetree/internal/store"
)

var termCreateSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "worktreePath"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"worktreePath": {"type": "string", "minLength": 1}
	}
}`)

var termStartSchema = mustCompileSchema(`{
	"type": "object",
	"properties": {
		"cols": {"type": "integer", "minimum": 1, "maximum": 1000},
		"rows": {"type": "integer", "minimum": 1, "maximum": 1000}
	}
}`)

var termWriteSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {"type": "string"}
	}
}`)

var termResizeSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["cols", "rows"],
	"properties": {
		"cols": {"type": "integer", "minimum": 1, "maximum": 1000},
		"rows": {"type": "integer", "minimum": 1, "maximum": 1000}
	}
}`)

// TerminalHandler serves the durable terminal-session rows and their live
// PTY lifecycle.
type TerminalHandler struct {
	store *store.Store
	ptys  *pty.Manager
}

// NewTerminalHandler creates a terminal handler.
func NewTerminalHandler(st *store.Store, ptys *pty.Manager) *TerminalHandler {
	return &TerminalHandler{store: st, ptys: ptys}
}

// RegisterRoutes registers terminal session routes.
func (h *TerminalHandler) RegisterRoutes(api fiber.Router) {
	api.Post("/term/sessions", h.CreateOrGet)
	api.Get("/term/sessions", h.List)
	api.Get("/term/sessions/:id", h.Get)
	api.Post("/term/sessions/:id/start", h.Start)
	api.Post("/term/sessions/:id/stop", h.Stop)
	api.Post("/term/sessions/:id/write", h.Write)
	api.Post("/term/sessions/:id/resize", h.Resize)
	api.Delete("/term/sessions/:id", h.Delete)
}

// CreateOrGet returns the session row for (repoId, worktreePath), creating
// one when absent.
func (h *TerminalHandler) CreateOrGet(c *fiber.Ctx) error {
	var req struct {
		RepoID       string `json:"repoId"`
		WorktreePath string `json:"worktreePath"`
	}
	if err := parseBody(c, termCreateSchema, &req); err != nil {
		return nil
	}
	ts, err := h.store.CreateOrGetTerminalSession(req.RepoID, req.WorktreePath)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ts)
}

// List returns a repo's terminal sessions.
func (h *TerminalHandler) List(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	sessions, err := h.store.ListTerminalSessions(repoID)
	if err != nil {
		return writeError(c, err)
	}
	if sessions == nil {
		sessions = []models.TerminalSession{}
	}
	return c.JSON(sessions)
}

// Get returns one session. After a stop the row carries the lastOutput
// tail; while running the live buffer is served over /ws/term instead.
func (h *TerminalHandler) Get(c *fiber.Ctx) error {
	ts, err := h.store.GetTerminalSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ts)
}

// Start spawns the PTY for the session. Idempotent while running.
func (h *TerminalHandler) Start(c *fiber.Ctx) error {
	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := parseBody(c, termStartSchema, &req); err != nil {
		return nil
	}
	if req.Cols == 0 {
		req.Cols = 80
	}
	if req.Rows == 0 {
		req.Rows = 24
	}

	ts, err := h.store.GetTerminalSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	alreadyLive := h.ptys.IsRunning(ts.ID)
	if _, err := h.ptys.Create(ts.ID, ts.WorktreePath, req.Cols, req.Rows); err != nil {
		return writeError(c, err)
	}
	if !alreadyLive {
		// The shell can exit on its own; the row must not stay "running"
		// with a dead pid, and the output tail survives on the row.
		sessionID := ts.ID
		h.ptys.OnExit(sessionID, func(code int) {
			tail, _ := h.ptys.OutputBuffer(sessionID)
			if err := h.store.MarkTerminalStopped(sessionID, string(tail)); err != nil {
				logger.Warnf("terminal %s: persisting exit state: %v", sessionID, err)
			}
		})
	}
	if pid, ok := h.ptys.Pid(ts.ID); ok {
		if err := h.store.MarkTerminalRunning(ts.ID, pid); err != nil {
			return writeError(c, err)
		}
	}

	ts, err = h.store.GetTerminalSession(ts.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ts)
}

// Stop kills the PTY and persists the output tail on the row.
func (h *TerminalHandler) Stop(c *fiber.Ctx) error {
	ts, err := h.store.GetTerminalSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	tail, _ := h.ptys.OutputBuffer(ts.ID)
	h.ptys.Kill(ts.ID)
	if err := h.store.MarkTerminalStopped(ts.ID, string(tail)); err != nil {
		return writeError(c, err)
	}

	ts, err = h.store.GetTerminalSession(ts.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ts)
}

// Write sends bytes to the session's stdin.
func (h *TerminalHandler) Write(c *fiber.Ctx) error {
	var req struct {
		Data string `json:"data"`
	}
	if err := parseBody(c, termWriteSchema, &req); err != nil {
		return nil
	}
	if !h.ptys.Write(c.Params("id"), []byte(req.Data)) {
		return writeError(c, store.ErrNotFound)
	}
	return c.JSON(fiber.Map{"written": len(req.Data)})
}

// Resize updates the PTY dimensions.
func (h *TerminalHandler) Resize(c *fiber.Ctx) error {
	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := parseBody(c, termResizeSchema, &req); err != nil {
		return nil
	}
	if !h.ptys.Resize(c.Params("id"), req.Cols, req.Rows) {
		return writeError(c, store.ErrNotFound)
	}
	return c.JSON(fiber.Map{"cols": req.Cols, "rows": req.Rows})
}

// Delete kills any live PTY and removes the session row.
func (h *TerminalHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	h.ptys.Kill(id)
	if err := h.store.DeleteTerminalSession(id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": id})
}
