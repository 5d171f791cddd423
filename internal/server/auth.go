package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/54b3r/askdocs-go/internal/logging"
)

// adminKeyHeader carries the shared admin secret on protected endpoints.
const adminKeyHeader = "X-Admin-Key"

// minAdminKeyLen mirrors the configuration minimum. A server that somehow
// reaches this middleware with a shorter key rejects every request rather
// than serving with a weak gate.
const minAdminKeyLen = 16

// adminOnly enforces the X-Admin-Key gate on admin endpoints. Requests with
// a missing or mismatched key receive 401 before the handler runs, so a
// rejected request can have no side effects. The presented key value is
// never logged.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		if len(s.cfg.AdminKey) < minAdminKeyLen {
			log.Error("auth: configured admin key is too short — rejecting all admin requests")
			writeError(w, http.StatusUnauthorized, "admin access unavailable")
			return
		}

		presented := r.Header.Get(adminKeyHeader)
		if presented == "" {
			log.Warn("auth: missing admin key", slog.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "admin key required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AdminKey)) != 1 {
			log.Warn("auth: invalid admin key",
				slog.String("path", r.URL.Path),
				slog.Bool("key_present", true),
			)
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
