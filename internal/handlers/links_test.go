package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetree/vibetree/internal/events"
	"github.com/vibetree/vibetree/internal/store"
)

func newLinksServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	api := app.Group("/api")
	NewLinksHandler(st, events.NewBus(), "").RegisterRoutes(api)

	return &testServer{app: app, store: st}
}

func TestExternalLinkCreateCachesContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# The design doc")
	}))
	t.Cleanup(upstream.Close)

	s := newLinksServer(t)
	resp, body := s.request(t, "POST", "/api/external-links", fmt.Sprintf(`{
		"planningSessionId": "ps-1",
		"url": %q
	}`, upstream.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "url", body["linkType"])
	assert.Equal(t, "# The design doc", body["contentCache"])
	assert.NotNil(t, body["lastFetchedAt"])
}

func TestExternalLinkCreateSurvivesFetchFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(upstream.Close)

	s := newLinksServer(t)
	resp, body := s.request(t, "POST", "/api/external-links", fmt.Sprintf(`{
		"planningSessionId": "ps-1",
		"url": %q
	}`, upstream.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, body["contentCache"])
}

func TestExternalLinkRejectsNonHTTPURL(t *testing.T) {
	s := newLinksServer(t)

	resp, body := s.request(t, "POST", "/api/external-links", `{
		"planningSessionId": "ps-1",
		"url": "ftp://example.com/file"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["code"])
	assert.Equal(t, "url", body["field"])
}

func TestExternalLinkContextBundle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "cached body")
	}))
	t.Cleanup(upstream.Close)

	s := newLinksServer(t)
	resp, created := s.request(t, "POST", "/api/external-links", fmt.Sprintf(`{
		"planningSessionId": "ps-1",
		"url": %q,
		"title": "Design doc"
	}`, upstream.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created["id"])

	resp, body := s.request(t, "GET", "/api/external-links/context?planningSessionId=ps-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctx, ok := body["context"].(string)
	require.True(t, ok)
	assert.Contains(t, ctx, "## Design doc")
	assert.Contains(t, ctx, upstream.URL)
	assert.Contains(t, ctx, "cached body")
}

func TestExternalLinkRenameAndDelete(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "body")
	}))
	t.Cleanup(upstream.Close)

	s := newLinksServer(t)
	_, created := s.request(t, "POST", "/api/external-links", fmt.Sprintf(`{
		"planningSessionId": "ps-1",
		"url": %q
	}`, upstream.URL))
	id := created["id"].(string)

	resp, body := s.request(t, "PATCH", "/api/external-links/"+id, `{"title": "Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["title"])

	resp, _ = s.request(t, "DELETE", "/api/external-links/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.request(t, "DELETE", "/api/external-links/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])
}
