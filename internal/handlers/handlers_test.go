package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetree/vibetree/internal/cache"
	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/models"
	"github.com/vibetree/vibetree/internal/store"
	"github.com/vibetree/vibetree/internal/vcs"
)

type testServer struct {
	app   *fiber.App
	store *store.Store
	fake  *vcs.FakeRunner
	bus   *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := &vcs.FakeRunner{}
	bus := events.NewBus()
	c := cache.New()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	api := app.Group("/api")
	NewReposHandler(vcs.NewClient(fake), c).RegisterRoutes(api)
	NewTreeSpecHandler(st, bus).RegisterRoutes(api)
	NewRulesHandler(st).RegisterRoutes(api)
	NewPlanningHandler(st, bus).RegisterRoutes(api)
	NewStoreHandler(st).RegisterRoutes(api)

	return &testServer{app: app, store: st, fake: fake, bus: bus}
}

func (s *testServer) request(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestTreeSpecUpsertAndGet(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/tree-spec", `{
		"repoId": "acme/widget",
		"baseBranch": "main",
		"nodes": [{"id": "a", "title": "Task A", "branchName": "feat/a"}],
		"edges": []
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "draft", body["status"])

	resp, body = s.request(t, "GET", "/api/tree-spec?repoId=acme/widget", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "main", body["baseBranch"])
}

func TestTreeSpecGetMissingIs404(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "GET", "/api/tree-spec?repoId=acme/none", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestTreeSpecValidationErrorNamesField(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/tree-spec", `{"baseBranch": "main"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestTreeSpecRejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/tree-spec", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body", body["field"])
}

func TestTreeSpecConfirmRequiresBaseBranch(t *testing.T) {
	s := newTestServer(t)

	_, _ = s.request(t, "POST", "/api/tree-spec", `{
		"repoId": "acme/widget",
		"nodes": [{"id": "a", "title": "Task A"}]
	}`)

	resp, body := s.request(t, "POST", "/api/tree-spec/confirm", `{"repoId": "acme/widget"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "baseBranch", body["field"])
}

func TestTreeSpecConfirmAndUnconfirm(t *testing.T) {
	s := newTestServer(t)

	_, _ = s.request(t, "POST", "/api/tree-spec", `{
		"repoId": "acme/widget",
		"baseBranch": "main",
		"nodes": [{"id": "a", "title": "Task A"}],
		"edges": []
	}`)

	resp, body := s.request(t, "POST", "/api/tree-spec/confirm", `{"repoId": "acme/widget"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])

	resp, body = s.request(t, "POST", "/api/tree-spec/unconfirm", `{"repoId": "acme/widget"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "draft", body["status"])

	spec, err := s.store.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, models.SpecDraft, spec.Status)
	assert.Len(t, spec.Nodes, 1, "unconfirm keeps the document")
}

func TestTreeSpecConfirmRejectsAllCycleDocument(t *testing.T) {
	s := newTestServer(t)

	_, _ = s.request(t, "POST", "/api/tree-spec", `{
		"repoId": "acme/widget",
		"baseBranch": "main",
		"nodes": [{"id": "a", "title": "A"}, {"id": "b", "title": "B"}],
		"edges": [{"from": "a", "to": "b"}, {"from": "b", "to": "a"}]
	}`)

	resp, body := s.request(t, "POST", "/api/tree-spec/confirm", `{"repoId": "acme/widget"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "edges", body["field"])
}

func TestProjectRulesRoundTrip(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "GET", "/api/project-rules?repoId=acme/widget", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["branchNaming"])

	resp, _ = s.request(t, "POST", "/api/project-rules", `{
		"repoId": "acme/widget",
		"branchNaming": {"pattern": "task/{planId}-{taskSlug}"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.request(t, "GET", "/api/project-rules?repoId=acme/widget", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rule, ok := body["branchNaming"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task/{planId}-{taskSlug}", rule["pattern"])
}

func TestProjectRulesRejectBrokenPattern(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/project-rules", `{
		"repoId": "acme/widget",
		"branchNaming": {"pattern": "task/("}
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "branchNaming.pattern", body["field"])
}

func TestPlanningSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/planning-sessions", `{
		"repoId": "acme/widget",
		"title": "Login epic",
		"baseBranch": "main",
		"nodes": [{"id": "a", "title": "A"}],
		"edges": []
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, ok := body["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	assert.Equal(t, "draft", body["status"])

	resp, body = s.request(t, "POST", "/api/planning-sessions/"+id+"/confirm", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.request(t, "GET", "/api/planning-sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])

	resp, _ = s.request(t, "POST", "/api/planning-sessions/"+id+"/discard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = s.request(t, "GET", "/api/planning-sessions/"+id, "")
	assert.Equal(t, "discarded", body["status"])
}

func TestPlanningSessionMissingIs404(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "GET", "/api/planning-sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestChatSessionAndMessages(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.request(t, "POST", "/api/chat", `{
		"worktreePath": "/wt/feat-a",
		"branchName": "feat/a"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, ok := body["id"].(string)
	require.True(t, ok)

	resp, _ = s.request(t, "POST", "/api/chat/"+id+"/messages", `{
		"role": "user",
		"content": "start with the form"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/chat/"+id+"/messages", nil)
	httpResp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	var messages []map[string]any
	require.NoError(t, json.Unmarshal(data, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0]["role"])
	assert.Equal(t, "start with the form", messages[0]["content"])
}

func TestBranchLinksEmptyListIsArray(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/branch-links?repoId=acme/widget", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestWriteErrorSubprocessMapping(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return writeError(c, &vcs.ExecError{Cmd: "git rebase", ExitCode: 1, Stderr: "CONFLICT"})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	data, _ := io.ReadAll(resp.Body)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "SUBPROCESS", body["code"])
	assert.Contains(t, body["error"], "CONFLICT")
}
