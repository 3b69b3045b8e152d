package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"inventory/internal/access"
	"inventory/internal/assets"
	"inventory/internal/dsl"
	"inventory/internal/metrics"
	"inventory/internal/records"
	"inventory/internal/store"
)

func init() { gin.SetMode(gin.TestMode) }

type harness struct {
	router  http.Handler
	checker *access.Checker
	metrics *metrics.Metrics
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cat, err := dsl.LoadFS(assets.Schema, "schema")
	require.NoError(t, err)
	st := store.NewMemory(cat)
	m := metrics.New()
	svc := records.New(cat, st, records.WithMetrics(m))
	checker := access.NewChecker(access.NewMemory(), "admin", ModulesOf(cat))
	auth := access.NewAuthenticator("", "viewer")

	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(m),
		WithReadiness(st),
		WithCORS([]string{"http://admin.local"}),
		WithSchemaSource(func() (*dsl.Catalog, error) { return dsl.LoadFS(assets.Schema, "schema") }),
	}
	srv := NewServer(svc, checker, auth, append(base, opts...)...)
	return &harness{router: srv.Router(), checker: checker, metrics: m}
}

type call struct {
	method  string
	path    string
	role    string
	body    any
	headers map[string]string
}

func (h *harness) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, rd)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.role != "" {
		req.Header.Set("X-Role", c.role)
		req.Header.Set("X-User", "tester")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) create(t *testing.T, path string, body map[string]any) map[string]any {
	t.Helper()
	w := h.do(t, call{method: http.MethodPost, path: path, role: "admin", body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](t, w)
}

func TestCreateAndGet(t *testing.T) {
	h := newHarness(t)

	rec := h.create(t, "/api/inventory/warehouse", map[string]any{"name": "Central", "manager": "Ana"})
	assert.Equal(t, "BOD001", rec["code"])
	assert.Equal(t, true, rec["active"])
	assert.EqualValues(t, 1, rec["version"])

	w := h.do(t, call{method: http.MethodGet, path: "/api/INVENTORY/Warehouse/" + rec["id"].(string), role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
	got := decode[map[string]any](t, w)
	assert.Equal(t, "Central", got["name"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/warehouse/nope", role: "admin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Record not found", decode[map[string]any](t, w)["error"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/ghost", role: "admin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Entity not found", decode[map[string]any](t, w)["error"])
}

func TestListSearchAndLabels(t *testing.T) {
	h := newHarness(t)
	bebidas := h.create(t, "/api/inventory/line", map[string]any{"name": "Bebidas"})
	h.create(t, "/api/inventory/subline", map[string]any{"name": "Gaseosas", "line": bebidas["id"]})
	h.create(t, "/api/inventory/subline", map[string]any{"name": "Jugos", "line": bebidas["id"]})

	w := h.do(t, call{method: http.MethodGet, path: "/api/inventory/subline?q=GAS", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
	rows := decode[[]map[string]any](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bebidas", rows[0]["line_label"])
	assert.Equal(t, "SUB0001", rows[0]["code"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/subline?_sort=-name&_limit=1", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))
	rows = decode[[]map[string]any](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jugos", rows[0]["name"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/subline/_count?active=true", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["total"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/subline?_sort=color", role: "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidationAndConflicts(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, call{method: http.MethodPost, path: "/api/inventory/subline", role: "admin", body: map[string]any{"name": "Sin línea"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	errs := body["errors"].([]any)
	require.NotEmpty(t, errs)
	assert.Equal(t, "required", errs[0].(map[string]any)["code"])
	assert.NotEmpty(t, body["error"])

	h.create(t, "/api/inventory/producttype", map[string]any{"name": "Bebida", "recipe": true})
	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/producttype", role: "admin", body: map[string]any{"name": "bebida"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse", role: "admin", body: `{"name":`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON", decode[map[string]any](t, w)["error"])

	for _, trailing := range []string{`{"name":"X"} xyz`, `{"name":"X"}{"name":"Y"}`, `{"name":"X"}]`} {
		w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse", role: "admin", body: trailing})
		assert.Equal(t, http.StatusBadRequest, w.Code, trailing)
		assert.Equal(t, "Invalid JSON", decode[map[string]any](t, w)["error"], trailing)
	}
	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse", role: "admin", body: "{\"name\":\"Trailing space\"}\n  "})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse", role: "admin", body: map[string]any{"name": "X", "color": "red"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecimalKeepsPrecision(t *testing.T) {
	h := newHarness(t)
	kg := h.create(t, "/api/inventory/measure", map[string]any{"name": "Kilogramo", "abbreviation": "kg"})
	w := h.do(t, call{
		method: http.MethodPost, path: "/api/inventory/measurepresentation", role: "admin",
		body: `{"name":"Saco","measure":"` + kg["id"].(string) + `","factor":12.345678901234}`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "12.345678901234", decode[map[string]any](t, w)["factor"])
}

func TestUpdateRequiresVersion(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "/api/inventory/warehouse", map[string]any{"name": "Central"})
	path := "/api/inventory/warehouse/" + rec["id"].(string)

	w := h.do(t, call{method: http.MethodPut, path: path, role: "admin", body: map[string]any{"name": "Norte"}})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, body["current_version"])
	assert.Equal(t, "version_conflict", body["errors"].([]any)[0].(map[string]any)["code"])

	w = h.do(t, call{method: http.MethodPut, path: path, role: "admin", body: map[string]any{"name": "Norte"}, headers: map[string]string{"If-Match": `W/"1"`}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.Equal(t, "Norte", got["name"])
	assert.Equal(t, "BOD001", got["code"])
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))

	w = h.do(t, call{method: http.MethodPatch, path: path, role: "admin", body: map[string]any{"phone": "555-1234", "version": 2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decode[map[string]any](t, w)
	assert.Equal(t, "Norte", got["name"])
	assert.Equal(t, "555-1234", got["phone"])
}

func TestStateTransitions(t *testing.T) {
	h := newHarness(t)
	line := h.create(t, "/api/inventory/line", map[string]any{"name": "Aseo"})
	sub := h.create(t, "/api/inventory/subline", map[string]any{"name": "Detergentes", "line": line["id"]})
	linePath := "/api/inventory/line/" + line["id"].(string)
	subPath := "/api/inventory/subline/" + sub["id"].(string)

	w := h.do(t, call{method: http.MethodPost, path: subPath + "/deactivate", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["active"])

	w = h.do(t, call{method: http.MethodPost, path: subPath + "/activate", role: "admin", body: map[string]any{"version": 1}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, call{method: http.MethodDelete, path: linePath, role: "admin"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "fk_in_use", decode[map[string]any](t, w)["errors"].([]any)[0].(map[string]any)["code"])

	w = h.do(t, call{method: http.MethodDelete, path: subPath, role: "admin"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, call{method: http.MethodGet, path: subPath, role: "admin"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, call{method: http.MethodPost, path: subPath + "/restore", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Aseo", decode[map[string]any](t, w)["line_label"])
}

func TestNextCodeAndLookup(t *testing.T) {
	h := newHarness(t)
	h.create(t, "/api/inventory/line", map[string]any{"name": "Bebidas"})
	h.create(t, "/api/inventory/line", map[string]any{"name": "Abarrotes"})

	w := h.do(t, call{method: http.MethodGet, path: "/api/inventory/line/_next_code", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"field": "code", "code": "LIN003"}, decode[map[string]any](t, w))

	w = h.do(t, call{method: http.MethodGet, path: "/api/lookup/inventory/line", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]records.LookupItem](t, w)
	require.Len(t, items, 2)
	assert.Equal(t, "Abarrotes", items[0].Label)
	assert.Equal(t, "LIN002", items[0].Code)
}

func TestPermissions(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "/api/inventory/warehouse", map[string]any{"name": "Central"})
	ctx := context.Background()

	w := h.do(t, call{method: http.MethodGet, path: "/api/inventory/warehouse", role: "clerk"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode[map[string]any](t, w)["error"], "not allowed")

	require.NoError(t, h.checker.Grant(ctx, "clerk", "inventory.Warehouse", []string{"view", "deactivate"}))
	w = h.do(t, call{method: http.MethodGet, path: "/api/inventory/warehouse", role: "clerk"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse", role: "clerk", body: map[string]any{"name": "Sur"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse/" + rec["id"].(string) + "/deactivate", role: "clerk"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, call{method: http.MethodPost, path: "/api/inventory/warehouse/" + rec["id"].(string) + "/restore", role: "clerk"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// the form definition tells the screen which buttons to render
	w = h.do(t, call{method: http.MethodGet, path: "/api/meta/inventory/warehouse", role: "clerk"})
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode[map[string]any](t, w)
	assert.Equal(t, []any{"view", "deactivate"}, meta["actions"])
	assert.Equal(t, "Bodegas", meta["label"])
	assert.Equal(t, "name", meta["display"])
}

func TestAccessRoutes(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, call{method: http.MethodPut, path: "/api/access/roles/supervisor/inventory.subline", role: "admin", body: map[string]any{"actions": []string{"view", "create"}}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.Equal(t, map[string]any{"inventory.Subline": []any{"view", "create"}}, got["grants"])

	w = h.do(t, call{method: http.MethodPut, path: "/api/access/roles/supervisor/inventory.subline", role: "admin", body: map[string]any{"actions": []string{"fly"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, call{method: http.MethodPut, path: "/api/access/roles/supervisor/inventory.ghost", role: "admin", body: map[string]any{"actions": []string{"view"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, call{method: http.MethodGet, path: "/api/access/me", role: "supervisor"})
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "supervisor", me["role"])
	assert.Equal(t, false, me["superuser"])
	assert.Equal(t, []any{"view", "create"}, me["grants"].(map[string]any)["inventory.Subline"])

	w = h.do(t, call{method: http.MethodGet, path: "/api/access/roles", role: "supervisor"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, call{method: http.MethodGet, path: "/api/access/modules", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]access.Module](t, w))

	w = h.do(t, call{method: http.MethodDelete, path: "/api/access/roles/supervisor/inventory.subline", role: "admin"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, call{method: http.MethodGet, path: "/api/access/roles/supervisor", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string]any](t, w)["grants"])
}

func TestTokenMode(t *testing.T) {
	cat, err := dsl.LoadFS(assets.Schema, "schema")
	require.NoError(t, err)
	auth := access.NewAuthenticator("s3cret", "viewer")
	srv := NewServer(records.New(cat, store.NewMemory(cat)), access.NewChecker(access.NewMemory(), "admin", ModulesOf(cat)), auth)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/line", nil)
	req.Header.Set("X-Role", "admin")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := auth.Mint("ana", "admin", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/inventory/line", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := auth.Mint("ana", "admin", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/inventory/line", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminReload(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, call{method: http.MethodPost, path: "/api/admin/reload", role: "supervisor"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, call{method: http.MethodPost, path: "/api/admin/reload", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.Equal(t, false, got["applied"])
	assert.Equal(t, []any{}, got["added"])

	broken := newHarness(t, WithSchemaSource(func() (*dsl.Catalog, error) {
		e := &dsl.Entity{Module: "inventory", Name: "Broken", Fields: []dsl.Field{{Name: "x", Type: dsl.TypeRef, RefTarget: "Nowhere"}}}
		return dsl.NewCatalog([]*dsl.Entity{e})
	}))
	w = broken.do(t, call{method: http.MethodPost, path: "/api/admin/reload", role: "admin"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[map[string]any](t, w)["issues"])
}

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = h.do(t, call{method: http.MethodGet, path: "/readyz", headers: map[string]string{"X-Request-ID": "abc"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	h.do(t, call{method: http.MethodGet, path: "/api/inventory/line", role: "admin"})
	w = h.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `inventory_http_requests_total{method="GET",path="/api/:module/:entity",status="200"}`)

	w = h.do(t, call{method: http.MethodOptions, path: "/api/inventory/line", headers: map[string]string{"Origin": "http://admin.local"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://admin.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "If-Match"))

	down := newHarness(t, WithReadiness(failingPinger{}))
	w = down.do(t, call{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
