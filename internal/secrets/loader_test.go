package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	return path
}

func TestLoadPrefersFile(t *testing.T) {
	t.Setenv("TEST_SECRET", "from-env")
	path := writeSecret(t, "  from-file\n")

	got, err := Load(Source{Name: "api key", Value: "inline", File: path, Env: "TEST_SECRET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected file secret, got %q", got)
	}
}

func TestLoadFallsBackToValueThenEnv(t *testing.T) {
	t.Setenv("TEST_SECRET", " from-env ")

	got, err := Load(Source{Value: " inline ", Env: "TEST_SECRET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "inline" {
		t.Fatalf("expected inline secret, got %q", got)
	}

	got, err = Load(Source{Env: "TEST_SECRET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected env secret, got %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("TEST_SECRET_EMPTY", "")

	tests := []struct {
		name   string
		src    Source
		expect string
	}{
		{name: "nothing", src: Source{Name: "api key"}, expect: "api key is not configured"},
		{name: "default name", src: Source{}, expect: "secret is not configured"},
		{name: "empty env", src: Source{Name: "api key", Env: "TEST_SECRET_EMPTY"}, expect: "TEST_SECRET_EMPTY is unset"},
		{name: "missing file", src: Source{Name: "api key", File: filepath.Join(t.TempDir(), "nope")}, expect: "reading api key from file"},
		{name: "empty file", src: Source{Name: "api key", File: writeSecret(t, "\n")}, expect: "is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.src)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.expect) {
				t.Fatalf("expected error containing %q, got %q", tt.expect, err)
			}
		})
	}
}
