package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"run", "validate", "runs", "artifacts", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestRunsSubcommands(t *testing.T) {
	for _, sub := range []string{"list", "show"} {
		out, err := executeCommand("runs", sub, "--help")
		if err != nil {
			t.Errorf("runs %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("runs %s --help produced no output", sub)
		}
	}
}

func TestArtifactsSubcommands(t *testing.T) {
	for _, sub := range []string{"list", "get", "reap"} {
		out, err := executeCommand("artifacts", sub, "--help")
		if err != nil {
			t.Errorf("artifacts %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("artifacts %s --help produced no output", sub)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte(`
pipeline:
  name: payments
  stages:
    - name: build
      command: make build
`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("validate", good)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("unexpected output: %s", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte(`
pipeline:
  name: payments
  stages:
    - name: build
      command: make build
      depends_on: [missing]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = executeCommand("validate", bad)
	if err == nil {
		t.Fatalf("expected validation failure, got output: %s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
