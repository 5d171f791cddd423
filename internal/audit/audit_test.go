package audit

import (
	"os"
	"strings"
	"testing"
)

func TestPresence(t *testing.T) {
	t.Parallel()

	if got := presence(""); got != "unset" {
		t.Errorf("presence(\"\") = %q", got)
	}
	if got := presence("super-secret-value"); got != "set" {
		t.Errorf("presence(secret) = %q — values must never surface", got)
	}
}

func TestValOrUnset(t *testing.T) {
	t.Parallel()

	if got := valOrUnset(""); got != "unset" {
		t.Errorf("valOrUnset(\"\") = %q", got)
	}
	if got := valOrUnset("llama3.2"); got != "llama3.2" {
		t.Errorf("valOrUnset = %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()

	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("empty path = %q, want none", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in this environment")
	}
	got := sanitiseConfigPath(home + "/.askdocs/config.yaml")
	if !strings.HasPrefix(got, "~") {
		t.Errorf("home-relative path not shortened: %q", got)
	}
}

func TestAdminKeyIsMarkedSecret(t *testing.T) {
	t.Parallel()

	for _, e := range auditKeys {
		if e.key == "ADMIN_API_KEY" {
			if !e.secret {
				t.Fatal("ADMIN_API_KEY must be redacted in audit logs")
			}
			return
		}
	}
	t.Fatal("ADMIN_API_KEY missing from audit key list")
}
