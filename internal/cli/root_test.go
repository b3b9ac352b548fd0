package cli

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCommands(t *testing.T) {
	root := NewRoot(slog.Default())

	expected := map[string]bool{
		"serve": false, "run": false, "seed": false, "token": false, "version": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Fatalf("missing %s command", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRoot(slog.Default())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("expected version %q, got %q", version, out.String())
	}
}

func TestSeedAndTokenAgainstFreshDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_DB_PATH", filepath.Join(dir, "warden.sqlite"))
	t.Setenv("WARDEN_CATALOG_OVERLAY", filepath.Join(dir, "catalog.json"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seedRoot := NewRoot(logger)
	seedRoot.SetOut(&bytes.Buffer{})
	seedRoot.SetErr(&bytes.Buffer{})
	seedRoot.SetArgs([]string{"seed"})
	if err := seedRoot.Execute(); err != nil {
		t.Fatalf("seed against fresh database failed: %v", err)
	}

	out := &bytes.Buffer{}
	tokenRoot := NewRoot(logger)
	tokenRoot.SetOut(out)
	tokenRoot.SetErr(out)
	tokenRoot.SetArgs([]string{"token", "--email", "alice@example.com"})
	if err := tokenRoot.Execute(); err != nil {
		t.Fatalf("token against seeded database failed: %v", err)
	}
	if signed := strings.TrimSpace(out.String()); strings.Count(signed, ".") != 2 {
		t.Fatalf("expected a signed token, got %q", signed)
	}
}

func TestRunCommandRequiresFlags(t *testing.T) {
	root := NewRoot(slog.Default())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--token is required") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
