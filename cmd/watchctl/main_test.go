package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"go.mod":              "module github.com/example/watcher\n\ngo 1.24\n",
		"cmd/watcher/main.go": "package main\n\nfunc main() {}\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDockerfileCommandIsStable(t *testing.T) {
	t.Setenv("IMAGE_PORT", "")
	dir := writeSource(t)

	first, err := execute(t, "dockerfile", "--source", dir, "--port", "8080")
	if err != nil {
		t.Fatalf("dockerfile: %v", err)
	}
	second, err := execute(t, "dockerfile", "--source", dir, "--port", "8080")
	if err != nil {
		t.Fatalf("dockerfile again: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical output across runs")
	}
	for _, want := range []string{"ENV PORT=8080", "EXPOSE 8080", `"--app", "watcher:app"`} {
		if !strings.Contains(first, want) {
			t.Fatalf("expected %q in output:\n%s", want, first)
		}
	}
}

func TestDockerfileCommandRequiresManifest(t *testing.T) {
	if _, err := execute(t, "dockerfile", "--source", t.TempDir()); err == nil {
		t.Fatalf("expected missing manifest error")
	}
}

func TestMalformedImagePortFailsCommands(t *testing.T) {
	t.Setenv("IMAGE_PORT", "web")
	dir := writeSource(t)
	_, err := execute(t, "dockerfile", "--source", dir)
	if err == nil || !strings.Contains(err.Error(), "IMAGE_PORT") {
		t.Fatalf("expected IMAGE_PORT error, got %v", err)
	}
}

func TestRunRequiresImage(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	var err error = &exitError{code: 7}
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 7 {
		t.Fatalf("unexpected exit error %v", err)
	}
}
