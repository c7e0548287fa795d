package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
)

// maxLinkContent caps a cached external-link body.
const maxLinkContent = 256 * 1024

var externalLinkSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["planningSessionId", "url"],
	"properties": {
		"planningSessionId": {"type": "string", "minLength": 1},
		"url": {"type": "string", "minLength": 1, "pattern": "^https?://"},
		"title": {"type": "string"}
	}
}`)

var linkTitleSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title": {"type": "string", "minLength": 1}
	}
}`)

// LinksHandler serves external links attached to planning sessions:
// reference material the agent can pull into context.
type LinksHandler struct {
	store *store.Store
	bus   *events.Bus
	// token is forwarded to hosting-platform fetches when present.
	token  string
	client *http.Client
}

// NewLinksHandler creates a links handler.
func NewLinksHandler(st *store.Store, bus *events.Bus, token string) *LinksHandler {
	return &LinksHandler{
		store:  st,
		bus:    bus,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterRoutes registers external link routes.
func (h *LinksHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/external-links", h.List)
	api.Post("/external-links", h.Create)
	api.Get("/external-links/context", h.Context)
	api.Patch("/external-links/:id", h.Rename)
	api.Post("/external-links/:id/refresh", h.Refresh)
	api.Delete("/external-links/:id", h.Delete)
}

// List returns a planning session's links.
func (h *LinksHandler) List(c *fiber.Ctx) error {
	sessionID := c.Query("planningSessionId")
	if sessionID == "" {
		return badRequest(c, "planningSessionId", "planningSessionId is required")
	}
	links, err := h.store.ListExternalLinks(sessionID)
	if err != nil {
		return writeError(c, err)
	}
	if links == nil {
		links = []models.ExternalLink{}
	}
	return c.JSON(links)
}

// Create attaches a link, infers its type from the URL host and fetches
// content best-effort. A failed fetch still creates the link with a null
// content cache.
func (h *LinksHandler) Create(c *fiber.Ctx) error {
	var link models.ExternalLink
	if err := parseBody(c, externalLinkSchema, &link); err != nil {
		return nil
	}

	if content := h.fetchContent(link.URL); content != nil {
		now := time.Now()
		link.ContentCache = content
		link.LastFetchedAt = &now
	}

	if err := h.store.CreateExternalLink(&link); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{
		Type:              events.ExternalLinkCreated,
		PlanningSessionID: link.PlanningSessionID,
		Payload:           &link,
	})
	return c.Status(fiber.StatusCreated).JSON(&link)
}

// Rename updates a link's title.
func (h *LinksHandler) Rename(c *fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := parseBody(c, linkTitleSchema, &req); err != nil {
		return nil
	}
	if err := h.store.UpdateExternalLinkTitle(c.Params("id"), req.Title); err != nil {
		return writeError(c, err)
	}
	link, err := h.store.GetExternalLink(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{
		Type:              events.ExternalLinkUpdated,
		PlanningSessionID: link.PlanningSessionID,
		Payload:           link,
	})
	return c.JSON(link)
}

// Refresh re-fetches the link's content on explicit request.
func (h *LinksHandler) Refresh(c *fiber.Ctx) error {
	link, err := h.store.GetExternalLink(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	content := h.fetchContent(link.URL)
	if err := h.store.SetExternalLinkContent(link.ID, content, time.Now()); err != nil {
		return writeError(c, err)
	}
	link, err = h.store.GetExternalLink(link.ID)
	if err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{
		Type:              events.ExternalLinkUpdated,
		PlanningSessionID: link.PlanningSessionID,
		Payload:           link,
	})
	return c.JSON(link)
}

// Delete removes a link.
func (h *LinksHandler) Delete(c *fiber.Ctx) error {
	link, err := h.store.GetExternalLink(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.store.DeleteExternalLink(link.ID); err != nil {
		return writeError(c, err)
	}
	h.bus.Broadcast(events.Event{
		Type:              events.ExternalLinkDeleted,
		PlanningSessionID: link.PlanningSessionID,
		Payload:           fiber.Map{"id": link.ID},
	})
	return c.JSON(fiber.Map{"deleted": link.ID})
}

// Context concatenates a planning session's cached link content into one
// markdown bundle.
func (h *LinksHandler) Context(c *fiber.Ctx) error {
	sessionID := c.Query("planningSessionId")
	if sessionID == "" {
		return badRequest(c, "planningSessionId", "planningSessionId is required")
	}
	links, err := h.store.ListExternalLinks(sessionID)
	if err != nil {
		return writeError(c, err)
	}

	var b strings.Builder
	for _, link := range links {
		title := link.Title
		if title == "" {
			title = link.URL
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, link.URL)
		if link.ContentCache != nil {
			b.WriteString(*link.ContentCache)
			b.WriteString("\n\n")
		}
	}
	return c.JSON(fiber.Map{"planningSessionId": sessionID, "context": b.String()})
}

// fetchContent pulls the link body, nil on any failure. Hosting-platform
// URLs carry the configured token.
func (h *LinksHandler) fetchContent(url string) *string {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	if h.token != "" && strings.Contains(url, "github.com") {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	req.Header.Set("Accept", "text/plain, text/markdown, text/html;q=0.5")

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Debugf("external link fetch %s: %v", url, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Debugf("external link fetch %s: status %d", url, resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLinkContent))
	if err != nil {
		return nil
	}
	content := string(body)
	return &content
}
