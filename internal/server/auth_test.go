package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// adminRoutes enumerates every protected endpoint for the auth gate tests.
var adminRoutes = []struct {
	method string
	path   string
}{
	{http.MethodPost, "/ingest"},
	{http.MethodGet, "/admin/documents"},
	{http.MethodDelete, "/admin/documents/some-id"},
	{http.MethodGet, "/admin/stats"},
}

func TestAdminAuth_MissingKey(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	s := newTestServer(t, engine, nil)

	for _, route := range adminRoutes {
		req := httptest.NewRequest(route.method, route.path, nil)
		w := do(s, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key: status = %d, want 401", route.method, route.path, w.Code)
		}
	}
	if engine.ingestCalls != 0 || len(engine.delIDs) != 0 {
		t.Error("rejected requests must have no side effects")
	}
}

func TestAdminAuth_WrongKey(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	s := newTestServer(t, engine, nil)

	for _, route := range adminRoutes {
		req := httptest.NewRequest(route.method, route.path, nil)
		req.Header.Set(adminKeyHeader, "1111111111111111deadbeef")
		w := do(s, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with wrong key: status = %d, want 401", route.method, route.path, w.Code)
		}
	}
	if len(engine.delIDs) != 0 {
		t.Error("rejected delete must not reach the engine")
	}
}

func TestAdminAuth_ShortPresentedKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set(adminKeyHeader, "short")
	if w := do(s, req); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAdminAuth_ShortConfiguredKeyRejectsEverything(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, func(cfg *Config) { cfg.AdminKey = "weak" })

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set(adminKeyHeader, "weak")
	if w := do(s, req); w.Code != http.StatusUnauthorized {
		t.Errorf("a weakly configured gate must reject even matching keys, got %d", w.Code)
	}
}

func TestAdminAuth_PublicRoutesUnaffected(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{answer: "a", sources: []string{}}, nil)

	if w := do(s, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/chat", chatBody(t, "q"))
	if w := do(s, req); w.Code != http.StatusOK {
		t.Errorf("/chat status = %d", w.Code)
	}
}
