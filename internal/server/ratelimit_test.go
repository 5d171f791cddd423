package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler answers 200 for middleware tests.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_AllowsWithinBudget(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 10, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 2, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "10.0.0.2:1234"

	got429 := false
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			got429 = true
		}
	}
	if !got429 {
		t.Error("burst of 5 against limit 1/s burst 2 never hit 429")
	}
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	exhaust := httptest.NewRequest(http.MethodPost, "/chat", nil)
	exhaust.RemoteAddr = "10.0.0.3:1234"
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), exhaust)
	}

	other := httptest.NewRequest(http.MethodPost, "/chat", nil)
	other.RemoteAddr = "10.0.0.4:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Errorf("a fresh IP must not inherit another IP's exhaustion, got %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:9999"
	if got := clientIP(r); got != "192.0.2.7" {
		t.Errorf("clientIP = %q", got)
	}

	r.RemoteAddr = "no-port-here"
	if got := clientIP(r); got != "no-port-here" {
		t.Errorf("clientIP fallback = %q", got)
	}
}
