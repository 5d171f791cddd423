// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only — never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, entry := range auditKeys {
		val := os.Getenv(entry.key)
		if entry.secret {
			attrs = append(attrs, slog.String(entry.key, presence(val)))
		} else {
			attrs = append(attrs, slog.String(entry.key, valOrUnset(val)))
		}
	}

	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"ADMIN_API_KEY", true},
	{"LLM_BASE_URL", false},
	{"LLM_MODEL", false},
	{"EMBEDDING_MODEL", false},
	{"VECTOR_STORE_DIR", false},
	{"COLLECTION_NAME", false},
	{"UPLOAD_DIR", false},
	{"MAX_FILE_SIZE_MB", false},
	{"ALLOWED_EXTENSIONS", false},
	{"CHUNK_SIZE", false},
	{"CHUNK_OVERLAP", false},
	{"TOP_K_RESULTS", false},
	{"HISTORY_BUDGET_TOKENS", false},
	{"JOURNAL_DB_PATH", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
}

// presence reports whether a secret env var is set, never its value.
func presence(val string) string {
	if val == "" {
		return "unset"
	}
	return "set"
}

// valOrUnset returns the value, or "unset" for empty strings.
func valOrUnset(val string) string {
	if val == "" {
		return "unset"
	}
	return val
}

// sanitiseConfigPath shortens home-relative config paths for readability and
// returns "none" when no config file was loaded.
func sanitiseConfigPath(path string) string {
	if path == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}
