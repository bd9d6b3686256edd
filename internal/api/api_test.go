package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/linkcheck"
	"github.com/burugo/linkcheck/drivers/cache/memory"
	"github.com/burugo/linkcheck/drivers/db/sqlite"
)

type testEnv struct {
	handler http.Handler
	metrics *linkcheck.Metrics
}

type response struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	FromCache bool            `json:"from_cache"`
	ErrorCode string          `json:"error_code"`
	Errors    []string        `json:"errors"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(t.TempDir(), "api.db"))
	store, err := sqlite.Open(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend, err := memory.New(0)
	require.NoError(t, err)
	metrics := linkcheck.NewMetrics("linkcheck")
	cache := linkcheck.NewCacheService(backend, linkcheck.WithCacheMetrics(metrics))
	links, err := linkcheck.NewLinkService(store, cache, nil, nil)
	require.NoError(t, err)
	users, err := linkcheck.NewUserService(store, links, nil)
	require.NoError(t, err)

	srv := NewServer(linkcheck.DefaultConfig(), links, users, store, metrics, nil)
	return &testEnv{handler: srv.Handler(), metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, email string, body interface{}) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req.Header.Set(UserEmailHeader, email)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func (e *testEnv) register(t *testing.T, email string) {
	t.Helper()
	rec, _ := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func (e *testEnv) createLink(t *testing.T, email, url string) int64 {
	t.Helper()
	rec, resp := e.do(t, http.MethodPost, "/api/v1/links/", email, map[string]string{"url": url})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view linkcheck.LinkView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	return view.ID
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "Ann@Example.com", "name": "Ann"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	var user linkcheck.User
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	assert.Equal(t, "ann@example.com", user.Email)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "ann@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", resp.ErrorCode)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
	assert.Equal(t, []string{"registerRequest.email failed on email"}, resp.Errors)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/register", "", `{"email":"x@example.com","admin":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ann@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	var withStats linkcheck.UserWithStats
	require.NoError(t, json.Unmarshal(resp.Data, &withStats))
	assert.NotNil(t, withStats.LastLoginAt)
	assert.Zero(t, withStats.TotalLinks)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "USER_NOT_FOUND", resp.ErrorCode)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/check-email", "", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exists":false,"email":"ghost@example.com"}`, string(resp.Data))
}

func TestRequireUser(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/links/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_USER", resp.ErrorCode)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/links/", "ghost@example.com", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "USER_NOT_FOUND", resp.ErrorCode)
}

func TestLinksEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ann@example.com")
	env.register(t, "bob@example.com")
	id := env.createLink(t, "ann@example.com", "https://example.com/story")

	rec, resp := env.do(t, http.MethodPost, "/api/v1/links/", "ann@example.com", map[string]string{"url": "https://example.com/story"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DUPLICATE_URL", resp.ErrorCode)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/links/", "ann@example.com", map[string]string{"url": "not a url"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	path := fmt.Sprintf("/api/v1/links/%d", id)
	rec, resp = env.do(t, http.MethodGet, path, "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.FromCache)
	rec, resp = env.do(t, http.MethodGet, path, "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.FromCache)

	// Other users see nothing.
	rec, resp = env.do(t, http.MethodGet, path, "bob@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", resp.ErrorCode)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/links/abc", "ann@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = env.do(t, http.MethodPatch, path, "ann@example.com", map[string]string{"title": "Fresh title"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp = env.do(t, http.MethodGet, path, "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.FromCache)
	var detail linkcheck.LinkDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, "Fresh title", *detail.Title)

	rec, _ = env.do(t, http.MethodPut, path+"/verification", "ann@example.com", map[string]interface{}{
		"credibility_score": 72.5,
		"claims": []map[string]interface{}{
			{"claim": "a", "verdict": "verified", "sources": []string{"https://src.example"}},
		},
		"sources_checked": []string{"https://src.example"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = env.do(t, http.MethodPut, path+"/verification", "ann@example.com", map[string]interface{}{"credibility_score": 120})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/links/stats", "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats linkcheck.LinkStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.EqualValues(t, 1, stats.VerifiedLinks)
	require.NotNil(t, stats.AverageCredibility)
	assert.Equal(t, 72.5, *stats.AverageCredibility)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/dashboard", "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.FromCache)

	rec, _ = env.do(t, http.MethodDelete, path, "bob@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, path, "ann@example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, path, "ann@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLinksQuery(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ann@example.com")
	for i := 0; i < 3; i++ {
		env.createLink(t, "ann@example.com", fmt.Sprintf("https://example.com/%d", i))
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/links/?page=2&page_size=2", "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page linkcheck.LinkPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Len(t, page.Items, 1)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/links/?status_filter=pending", "ann@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.EqualValues(t, 3, page.Total)

	for _, q := range []string{"page=0", "page=x", "page_size=101", "page_size=0", "status=bogus"} {
		rec, resp = env.do(t, http.MethodGet, "/api/v1/links/?"+q, "ann@example.com", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
		assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode, q)
	}
}

func TestScrapeWithoutScraperIsInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ann@example.com")
	id := env.createLink(t, "ann@example.com", "https://example.com/a")

	rec, resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/links/%d/scrape", id), "ann@example.com", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","database":"ok","cache":"enabled","version":"1.0.0"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `linkcheck_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
