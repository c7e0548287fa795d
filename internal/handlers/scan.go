package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/scanner"
)

var scanSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["localPath"],
	"properties": {
		"localPath": {"type": "string", "minLength": 1}
	}
}`)

// ScanHandler serves repository scans and restart prompts.
type ScanHandler struct {
	scanner *scanner.Scanner
}

// NewScanHandler creates a scan handler.
func NewScanHandler(s *scanner.Scanner) *ScanHandler {
	return &ScanHandler{scanner: s}
}

// RegisterRoutes registers scan routes.
func (h *ScanHandler) RegisterRoutes(api fiber.Router) {
	api.Post("/scan", h.Scan)
	api.Get("/scan/restart-prompt", h.RestartPrompt)
}

// Scan runs a full scan of the repo at localPath and returns the snapshot.
func (h *ScanHandler) Scan(c *fiber.Ctx) error {
	var req struct {
		LocalPath string `json:"localPath"`
	}
	if err := parseBody(c, scanSchema, &req); err != nil {
		return nil
	}

	ctx, cancel := requestContext(c, 2*time.Minute)
	defer cancel()

	snapshot, err := h.scanner.Scan(ctx, req.LocalPath)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(snapshot)
}

// RestartPrompt synthesizes the resume-work markdown for one worktree.
func (h *ScanHandler) RestartPrompt(c *fiber.Ctx) error {
	localPath := c.Query("localPath")
	worktreePath := c.Query("worktreePath")
	if localPath == "" || worktreePath == "" {
		return badRequest(c, "localPath", "localPath and worktreePath are required")
	}

	ctx, cancel := requestContext(c, 2*time.Minute)
	defer cancel()

	snapshot, err := h.scanner.Scan(ctx, localPath)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"prompt": h.scanner.RestartPromptForWorktree(snapshot, worktreePath),
	})
}
