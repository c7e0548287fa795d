// Package app assembles the server: services, handlers and the fiber app.
package app

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vibetree/vibetree/internal/branch"
	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/config"
	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/handlers"
	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/pty"
	"github.com/vibetree/vibetree/internal/scanner"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/tree"
	"github.com/vibetree/vibetree/internal/vcs"
)

// App is the assembled server.
type App struct {
	cfg   *config.Config
	fiber *fiber.App
	store *store.Store
	cache *cache.Cache
	ptys  *pty.Manager
}

// New wires every component and registers the routes.
func New(cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// Rows survive restarts; live PTYs do not.
	if err := st.ResetTerminalSessions(); err != nil {
		return nil, fmt.Errorf("resetting terminal sessions: %w", err)
	}

	c := cache.New()
	c.StartSweeper()

	bus := events.NewBus()
	runner := vcs.NewRunner()
	client := vcs.NewClient(runner)
	ptys := pty.NewManager(cfg.Shell)

	scan := scanner.New(client, st, c, bus)
	branches := branch.NewService(client, st, c, bus)
	materializer := tree.New(client, st, c, bus, cfg, runner)

	f := fiber.New(fiber.Config{
		AppName:               "vibetree",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return ctx.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	f.Use(requestLogger())

	api := f.Group("/api")
	handlers.NewReposHandler(client, c).RegisterRoutes(api)
	handlers.NewScanHandler(scan).RegisterRoutes(api)
	handlers.NewRulesHandler(st).RegisterRoutes(api)
	handlers.NewTreeSpecHandler(st, bus).RegisterRoutes(api)
	handlers.NewBranchHandler(branches, materializer, client, c).RegisterRoutes(api)
	handlers.NewTerminalHandler(st, ptys).RegisterRoutes(api)
	handlers.NewPlanningHandler(st, bus).RegisterRoutes(api)
	handlers.NewLinksHandler(st, bus, cfg.GitHubToken).RegisterRoutes(api)
	handlers.NewStoreHandler(st).RegisterRoutes(api)

	handlers.NewWSHandler(bus, ptys).RegisterRoutes(f)

	f.Use(func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})

	return &App{cfg: cfg, fiber: f, store: st, cache: c, ptys: ptys}, nil
}

// Listen serves until the listener fails or Shutdown is called.
func (a *App) Listen() error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	logger.Infof("vibetree listening on %s", addr)
	return a.fiber.Listen(addr)
}

// Shutdown stops the server and kills every live PTY.
func (a *App) Shutdown() error {
	a.ptys.Cleanup()
	a.cache.Stop()
	err := a.fiber.Shutdown()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Fiber exposes the underlying fiber app for tests.
func (a *App) Fiber() *fiber.App {
	return a.fiber
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Logger.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}
