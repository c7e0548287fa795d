// Package handlers maps the HTTP and WebSocket surface onto the services.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vibetree/vibetree/internal/branch"
	"github.com/vibetree/vibetree/internal/scanner"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/vcs"
)

// mustCompileSchema compiles a request schema at package init.
func mustCompileSchema(doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		panic(err)
	}
	return c.MustCompile("schema.json")
}

// errBadRequest signals that a 400 is already written to the context.
// Callers stop handling and return nil.
var errBadRequest = errors.New("bad request")

// parseBody decodes and validates the request body. On a decode or schema
// failure the 400 response is written here and errBadRequest comes back.
func parseBody(c *fiber.Ctx, schema *jsonschema.Schema, out any) error {
	body := c.Body()
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		_ = badRequest(c, "body", "invalid JSON")
		return errBadRequest
	}
	if err := schema.Validate(raw); err != nil {
		field, msg := schemaErrorField(err)
		_ = badRequest(c, field, msg)
		return errBadRequest
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		_ = badRequest(c, "body", err.Error())
		return errBadRequest
	}
	return nil
}

// schemaErrorField extracts the offending field from a validation error.
func schemaErrorField(err error) (string, string) {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" {
			field = "body"
		}
		return field, leaf.Message
	}
	return "body", err.Error()
}

// requestContext derives a bounded context for a request's subprocess work.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), timeout)
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fmt.Sprintf("%s: %s", field, msg),
		"code":  "VALIDATION",
		"field": field,
	})
}

// writeError maps service errors onto HTTP statuses with {error, code?}.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := ""

	var execErr *vcs.ExecError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, branch.ErrBranchNotFound),
		errors.Is(err, branch.ErrWorktreeNotFound):
		status = fiber.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, scanner.ErrPathNotFound):
		status = fiber.StatusNotFound
		code = "PATH_NOT_FOUND"
	case errors.Is(err, branch.ErrInvalidBranchName),
		errors.Is(err, branch.ErrBranchExists),
		errors.Is(err, branch.ErrDirty),
		errors.Is(err, branch.ErrDiverged),
		errors.Is(err, branch.ErrAlreadyCheckedOut),
		errors.Is(err, branch.ErrNotDeletable):
		status = fiber.StatusBadRequest
		code = "PRECONDITION"
	case errors.As(err, &execErr):
		// A failed subprocess usually means the user asked for something
		// git refuses (conflicts, diverged refs); surface its stderr.
		status = fiber.StatusBadRequest
		code = "SUBPROCESS"
	}

	resp := fiber.Map{"error": err.Error()}
	if code != "" {
		resp["code"] = code
	}
	return c.Status(status).JSON(resp)
}
