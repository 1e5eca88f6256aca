package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  secret-value\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	got, err := Load(Source{Name: "token", File: path, Value: "inline"})
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if got != "secret-value" {
		t.Fatalf("expected trimmed file value, got %q", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APPLY_PILOT_TEST_SECRET", " from-env ")

	got, err := Load(Source{Name: "token", Env: "APPLY_PILOT_TEST_SECRET", Value: "inline"})
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected env value to beat inline, got %q", got)
	}
}

func TestLoadInlineFallback(t *testing.T) {
	got, err := Load(Source{Name: "token", Value: " inline "})
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if got != "inline" {
		t.Fatalf("expected inline value, got %q", got)
	}
}

func TestLoadEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	if _, err := Load(Source{Name: "token", File: path}); err == nil {
		t.Fatalf("expected error for empty secret file")
	}
}

func TestLoadMissingEverywhere(t *testing.T) {
	if _, err := Load(Source{Name: "token"}); err == nil {
		t.Fatalf("expected error when nothing is configured")
	}
}
