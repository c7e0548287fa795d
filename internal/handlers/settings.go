package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/models"
)

var requirementCreateSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "title"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"title": {"type": "string", "minLength": 1},
		"content": {"type": "string"}
	}
}`)

var requirementPatchSchema = mustCompileSchema(`{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"status": {"type": "string", "enum": ["open", "accepted", "done"]}
	}
}`)

var aiSettingsSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["repoId", "provider", "model"],
	"properties": {
		"repoId": {"type": "string", "minLength": 1},
		"provider": {"type": "string", "minLength": 1},
		"model": {"type": "string", "minLength": 1},
		"systemPrompt": {"type": "string"}
	}
}`)

var systemSettingSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["key", "value"],
	"properties": {
		"key": {"type": "string", "minLength": 1},
		"value": {"type": "string"}
	}
}`)

// ListRequirements returns a repo's requirements.
func (h *StoreHandler) ListRequirements(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	reqs, err := h.store.ListRequirements(repoID)
	if err != nil {
		return writeError(c, err)
	}
	if reqs == nil {
		reqs = []models.Requirement{}
	}
	return c.JSON(reqs)
}

// CreateRequirement inserts one requirement (status starts open).
func (h *StoreHandler) CreateRequirement(c *fiber.Ctx) error {
	var req struct {
		RepoID  string `json:"repoId"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := parseBody(c, requirementCreateSchema, &req); err != nil {
		return nil
	}
	r, err := h.store.CreateRequirement(req.RepoID, req.Title, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

// PatchRequirement updates title, content or status; omitted fields keep
// their stored values.
func (h *StoreHandler) PatchRequirement(c *fiber.Ctx) error {
	var req struct {
		Title   string                   `json:"title"`
		Content string                   `json:"content"`
		Status  models.RequirementStatus `json:"status"`
	}
	if err := parseBody(c, requirementPatchSchema, &req); err != nil {
		return nil
	}
	r, err := h.store.UpdateRequirement(c.Params("id"), req.Title, req.Content, req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(r)
}

// DeleteRequirement removes one requirement.
func (h *StoreHandler) DeleteRequirement(c *fiber.Ctx) error {
	if err := h.store.DeleteRequirement(c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": c.Params("id")})
}

// GetAISettings returns a repo's assistant configuration.
func (h *StoreHandler) GetAISettings(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	cfg, err := h.store.GetAISettings(repoID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(cfg)
}

// SetAISettings upserts a repo's assistant configuration.
func (h *StoreHandler) SetAISettings(c *fiber.Ctx) error {
	var cfg models.AISettings
	if err := parseBody(c, aiSettingsSchema, &cfg); err != nil {
		return nil
	}
	if err := h.store.SetAISettings(&cfg); err != nil {
		return writeError(c, err)
	}
	return c.JSON(&cfg)
}

// DeleteAISettings clears a repo's assistant configuration.
func (h *StoreHandler) DeleteAISettings(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	if repoID == "" {
		return badRequest(c, "repoId", "repoId is required")
	}
	if err := h.store.DeleteAISettings(repoID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": repoID})
}

// ListSystemSettings returns every server-wide setting.
func (h *StoreHandler) ListSystemSettings(c *fiber.Ctx) error {
	settings, err := h.store.ListSystemSettings()
	if err != nil {
		return writeError(c, err)
	}
	if settings == nil {
		settings = []models.SystemSetting{}
	}
	return c.JSON(settings)
}

// SetSystemSetting upserts one key/value pair.
func (h *StoreHandler) SetSystemSetting(c *fiber.Ctx) error {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := parseBody(c, systemSettingSchema, &req); err != nil {
		return nil
	}
	if err := h.store.SetSystemSetting(req.Key, req.Value); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"key": req.Key, "value": req.Value})
}

// DeleteSystemSetting removes one key.
func (h *StoreHandler) DeleteSystemSetting(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return badRequest(c, "key", "key is required")
	}
	if err := h.store.DeleteSystemSetting(key); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": key})
}
