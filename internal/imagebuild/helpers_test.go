package imagebuild

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testManifest = `module github.com/example/watcher

go 1.24

require (
	github.com/go-rod/rod v0.116.2
	golang.org/x/sync v0.10.0 // indirect
)
`

func sampleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", testManifest)
	writeFile(t, dir, "go.sum", "github.com/go-rod/rod v0.116.2 h1:abc=\n")
	writeFile(t, dir, "cmd/watcher/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "internal/app/app.go", "package app\n")
	return dir
}
