package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/vcs"
)

const repoListTTL = 5 * time.Minute

// ReposHandler serves hosting-CLI repo metadata.
type ReposHandler struct {
	vcs   *vcs.Client
	cache *cache.Cache
}

// NewReposHandler creates a repos handler.
func NewReposHandler(v *vcs.Client, c *cache.Cache) *ReposHandler {
	return &ReposHandler{vcs: v, cache: c}
}

// RegisterRoutes registers repo routes.
func (h *ReposHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/health", h.Health)
	api.Get("/repos", h.ListRepos)
	api.Get("/repos/:owner/:name", h.GetRepo)
}

// Health is the liveness probe.
func (h *ReposHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListRepos lists the user's repositories, cached for five minutes.
func (h *ReposHandler) ListRepos(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, vcs.NetworkTimeout)
	defer cancel()

	v, err := h.cache.GetOrFetch("repos:list", repoListTTL, func() (any, error) {
		return h.vcs.ListRepos(ctx)
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(v)
}

// GetRepo returns hosting metadata for owner/name.
func (h *ReposHandler) GetRepo(c *fiber.Ctx) error {
	nameWithOwner := c.Params("owner") + "/" + c.Params("name")

	ctx, cancel := requestContext(c, vcs.NetworkTimeout)
	defer cancel()

	raw, err := h.vcs.RepoView(ctx, nameWithOwner)
	if err != nil {
		return writeError(c, err)
	}
	c.Set("Content-Type", "application/json")
	return c.Send(raw)
}
