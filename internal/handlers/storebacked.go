package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
)

var chatCreateSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["worktreePath", "branchName"],
	"properties": {
		"worktreePath": {"type": "string", "minLength": 1},
		"branchName": {"type": "string", "minLength": 1}
	}
}`)

var chatMessageSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["role", "content"],
	"properties": {
		"role": {"type": "string", "enum": ["user", "assistant", "system"]},
		"content": {"type": "string", "minLength": 1}
	}
}`)

var branchLinkSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "branchName", "url"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"branchName": {"type": "string", "minLength": 1},
		"linkType": {"type": "string", "enum": ["issue", "pr"]},
		"url": {"type": "string", "minLength": 1},
		"number": {"type": "integer"},
		"title": {"type": "string"}
	}
}`)

var repoPinSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "baseBranch"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"baseBranch": {"type": "string", "minLength": 1}
	}
}`)

var instructionSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "branchName", "content"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"branchName": {"type": "string", "minLength": 1},
		"content": {"type": "string", "minLength": 1}
	}
}`)

// StoreHandler serves the purely store-backed relations: chat sessions,
// branch links, repo pins, instructions, requirements and settings.
type StoreHandler struct {
	store *store.Store
}

// NewStoreHandler creates a store handler.
func NewStoreHandler(st *store.Store) *StoreHandler {
	return &StoreHandler{store: st}
}

// RegisterRoutes registers the store-backed routes.
func (h *StoreHandler) RegisterRoutes(api fiber.Router) {
	api.Post("/chat", h.CreateChat)
	api.Get("/chat/:id", h.GetChat)
	api.Post("/chat/:id/archive", h.ArchiveChat)
	api.Get("/chat/:id/messages", h.ListMessages)
	api.Post("/chat/:id/messages", h.AppendMessage)

	api.Get("/branch-links", h.ListBranchLinks)
	api.Post("/branch-links", h.UpsertBranchLink)
	api.Delete("/branch-links/:id", h.DeleteBranchLink)

	api.Get("/repo-pins", h.GetRepoPin)
	api.Post("/repo-pins", h.SetRepoPin)
	api.Delete("/repo-pins", h.DeleteRepoPin)

	api.Get("/instructions", h.ListInstructions)
	api.Post("/instructions", h.AddInstruction)
	api.Get("/instructions/log", h.ListInstructionsLog)
	api.Post("/instructions/log", h.AppendInstructionsLog)

	api.Get("/requirements", h.ListRequirements)
	api.Post("/requirements", h.CreateRequirement)
	api.Patch("/requirements/:id", h.PatchRequirement)
	api.Delete("/requirements/:id", h.DeleteRequirement)

	api.Get("/ai", h.GetAISettings)
	api.Post("/ai", h.SetAISettings)
	api.Delete("/ai", h.DeleteAISettings)

	api.Get("/system", h.ListSystemSettings)
	api.Post("/system", h.SetSystemSetting)
	api.Delete("/system", h.DeleteSystemSetting)
}

// CreateChat inserts a chat session for a worktree+branch.
func (h *StoreHandler) CreateChat(c *fiber.Ctx) error {
	var req struct {
		WorktreePath string `json:"worktreePath"`
		BranchName   string `json:"branchName"`
	}
	if err := parseBody(c, chatCreateSchema, &req); err != nil {
		return nil
	}
	cs, err := h.store.CreateChatSession(req.WorktreePath, req.BranchName)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cs)
}

// GetChat loads one chat session.
func (h *StoreHandler) GetChat(c *fiber.Ctx) error {
	cs, err := h.store.GetChatSession(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(cs)
}

// ArchiveChat transitions a session to archived.
func (h *StoreHandler) ArchiveChat(c *fiber.Ctx) error {
	if err := h.store.SetChatStatus(c.Params("id"), models.ChatArchived); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": models.ChatArchived})
}

// ListMessages returns a session's messages in order.
func (h *StoreHandler) ListMessages(c *fiber.Ctx) error {
	msgs, err := h.store.ListChatMessages(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return c.JSON(msgs)
}

// AppendMessage adds one message to a session.
func (h *StoreHandler) AppendMessage(c *fiber.Ctx) error {
	var req struct {
		Role    models.ChatRole `json:"role"`
		Content string          `json:"content"`
	}
	if err := parseBody(c, chatMessageSchema, &req); err != nil {
		return nil
	}
	msg, err := h.store.AppendChatMessage(c.Params("id"), req.Role, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ListBranchLinks returns a repo's branch links, optionally per branch.
func (h *StoreHandler) ListBranchLinks(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	links, err := h.store.ListBranchLinks(repoID, c.Query("branchName"))
	if err != nil {
		return writeError(c, err)
	}
	if links == nil {
		links = []models.BranchLink{}
	}
	return c.JSON(links)
}

// UpsertBranchLink inserts or refreshes a link keyed by (repo, branch, url).
func (h *StoreHandler) UpsertBranchLink(c *fiber.Ctx) error {
	var link models.BranchLink
	if err := parseBody(c, branchLinkSchema, &link); err != nil {
		return nil
	}
	if link.LinkType == "" {
		link.LinkType = models.BranchLinkPR
	}
	if err := h.store.UpsertBranchLink(&link); err != nil {
		return writeError(c, err)
	}
	return c.JSON(&link)
}

// DeleteBranchLink removes one link.
func (h *StoreHandler) DeleteBranchLink(c *fiber.Ctx) error {
	if err := h.store.DeleteBranchLink(c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": c.Params("id")})
}

// GetRepoPin returns the pinned base branch for a repo.
func (h *StoreHandler) GetRepoPin(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	pin, err := h.store.GetRepoPin(repoID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(pin)
}

// SetRepoPin stores the preferred base branch.
func (h *StoreHandler) SetRepoPin(c *fiber.Ctx) error {
	var req struct {
		RepoID     string `json:"repoId"`
		BaseBranch string `json:"baseBranch"`
	}
	if err := parseBody(c, repoPinSchema, &req); err != nil {
		return nil
	}
	if err := h.store.SetRepoPin(req.RepoID, req.BaseBranch); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"repoId": req.RepoID, "baseBranch": req.BaseBranch})
}

// DeleteRepoPin clears the pin.
func (h *StoreHandler) DeleteRepoPin(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	if err := h.store.DeleteRepoPin(repoID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": repoID})
}

// ListInstructions returns stored task instructions.
func (h *StoreHandler) ListInstructions(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	instructions, err := h.store.ListTaskInstructions(repoID, c.Query("branchName"))
	if err != nil {
		return writeError(c, err)
	}
	if instructions == nil {
		instructions = []models.TaskInstruction{}
	}
	return c.JSON(instructions)
}

// AddInstruction stores one instruction attached to a branch.
func (h *StoreHandler) AddInstruction(c *fiber.Ctx) error {
	var req struct {
		RepoID     string `json:"repoId"`
		BranchName string `json:"branchName"`
		Content    string `json:"content"`
	}
	if err := parseBody(c, instructionSchema, &req); err != nil {
		return nil
	}
	ti, err := h.store.AddTaskInstruction(req.RepoID, req.BranchName, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ti)
}

// ListInstructionsLog returns the append-only log for a repo.
func (h *StoreHandler) ListInstructionsLog(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	entries, err := h.store.ListInstructionsLog(repoID)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []models.InstructionsLogEntry{}
	}
	return c.JSON(entries)
}

// AppendInstructionsLog records one log entry.
func (h *StoreHandler) AppendInstructionsLog(c *fiber.Ctx) error {
	var req struct {
		RepoID     string `json:"repoId"`
		BranchName string `json:"branchName"`
		Content    string `json:"content"`
	}
	if err := parseBody(c, instructionSchema, &req); err != nil {
		return nil
	}
	entry, err := h.store.AppendInstructionsLog(req.RepoID, req.BranchName, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}
