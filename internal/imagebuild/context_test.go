package imagebuild

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectRecordsEveryFile(t *testing.T) {
	dir := sampleTree(t)
	writeFile(t, dir, ".env", "SECRET=1\n")

	ctx, err := Collect(dir)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{".env", "cmd/watcher/main.go", "go.mod", "go.sum", "internal/app/app.go"}
	if len(ctx.Files) != len(want) {
		t.Fatalf("expected %d files, got %+v", len(want), ctx.Files)
	}
	for i, path := range want {
		if ctx.Files[i].Path != path {
			t.Fatalf("file %d: expected %s got %s", i, path, ctx.Files[i].Path)
		}
	}
	if !ctx.Has("go.mod") || ctx.Has("Dockerfile") {
		t.Fatalf("unexpected Has results")
	}
	if ctx.Size() == 0 {
		t.Fatalf("expected non-zero size")
	}
}

func TestDigestDependsOnContentOnly(t *testing.T) {
	a := sampleTree(t)
	b := sampleTree(t)

	ca, err := Collect(a)
	if err != nil {
		t.Fatalf("collect a: %v", err)
	}
	cb, err := Collect(b)
	if err != nil {
		t.Fatalf("collect b: %v", err)
	}
	if ca.Digest() != cb.Digest() {
		t.Fatalf("identical trees produced different digests")
	}

	writeFile(t, b, "internal/app/app.go", "package app\n\nvar x = 1\n")
	cb, err = Collect(b)
	if err != nil {
		t.Fatalf("collect b again: %v", err)
	}
	if ca.Digest() == cb.Digest() {
		t.Fatalf("expected digest to change with content")
	}
}

func TestCollectRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Collect(path); err == nil {
		t.Fatalf("expected error for non-directory context")
	}
}
