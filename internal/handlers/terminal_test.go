package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetree/vibetree/internal/pty"
	"github.com/vibetree/vibetree/internal/store"
)

func newTerminalServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	api := app.Group("/api")
	NewTerminalHandler(st, pty.NewManager("/bin/sh")).RegisterRoutes(api)

	return &testServer{app: app, store: st}
}

func TestTerminalCreateOrGetIsIdempotent(t *testing.T) {
	s := newTerminalServer(t)

	resp, body := s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget",
		"worktreePath": "/wt/feat-a"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, ok := body["id"].(string)
	require.True(t, ok)
	assert.Equal(t, "stopped", body["status"])

	resp, body = s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget",
		"worktreePath": "/wt/feat-a"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"], "same worktree resolves to the same row")
}

func TestTerminalCreateValidation(t *testing.T) {
	s := newTerminalServer(t)

	resp, body := s.request(t, "POST", "/api/term/sessions", `{"repoId": "acme/widget"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["code"])
}

func TestTerminalGetMissingIs404(t *testing.T) {
	s := newTerminalServer(t)

	resp, body := s.request(t, "GET", "/api/term/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestTerminalWriteWithoutLivePTYIs404(t *testing.T) {
	s := newTerminalServer(t)

	resp, body := s.request(t, "POST", "/api/term/sessions/nope/write", `{"data": "ls\n"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestTerminalResizeWithoutLivePTYIs404(t *testing.T) {
	s := newTerminalServer(t)

	resp, _ := s.request(t, "POST", "/api/term/sessions/nope/resize", `{"cols": 120, "rows": 40}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTerminalStartStopLifecycle(t *testing.T) {
	s := newTerminalServer(t)

	_, body := s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget",
		"worktreePath": "`+t.TempDir()+`"
	}`)
	id := body["id"].(string)

	resp, body := s.request(t, "POST", "/api/term/sessions/"+id+"/start", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])
	assert.NotNil(t, body["pid"])

	resp, body = s.request(t, "POST", "/api/term/sessions/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", body["status"])
	assert.Nil(t, body["pid"])
}

func TestTerminalRowStoppedWhenShellExits(t *testing.T) {
	s := newTerminalServer(t)

	_, body := s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget",
		"worktreePath": "`+t.TempDir()+`"
	}`)
	id := body["id"].(string)

	resp, _ := s.request(t, "POST", "/api/term/sessions/"+id+"/start", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.request(t, "POST", "/api/term/sessions/"+id+"/write",
		`{"data": "echo vibetree-done; exit\n"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The shell exits on its own; the row must follow it down without a
	// stop call, tail included.
	assert.Eventually(t, func() bool {
		req := httptest.NewRequest("GET", "/api/term/sessions/"+id, nil)
		httpResp, err := s.app.Test(req, -1)
		if err != nil {
			return false
		}
		defer httpResp.Body.Close()
		var got map[string]any
		if json.NewDecoder(httpResp.Body).Decode(&got) != nil {
			return false
		}
		out, _ := got["lastOutput"].(string)
		return got["status"] == "stopped" && got["pid"] == nil &&
			strings.Contains(out, "vibetree-done")
	}, 5*time.Second, 50*time.Millisecond, "row must be marked stopped with its output tail")
}

func TestTerminalListScopedByRepo(t *testing.T) {
	s := newTerminalServer(t)

	_, _ = s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget", "worktreePath": "/wt/a"
	}`)
	_, _ = s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/gadget", "worktreePath": "/wt/b"
	}`)

	resp, _ := s.request(t, "GET", "/api/term/sessions", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/term/sessions?repoId=acme/widget", nil)
	httpResp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
}

func TestTerminalDeleteRow(t *testing.T) {
	s := newTerminalServer(t)

	_, body := s.request(t, "POST", "/api/term/sessions", `{
		"repoId": "acme/widget", "worktreePath": "/wt/a"
	}`)
	id := body["id"].(string)

	resp, _ := s.request(t, "DELETE", "/api/term/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.request(t, "GET", "/api/term/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
