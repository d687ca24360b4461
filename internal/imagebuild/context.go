// Package imagebuild assembles a build context for the watcher image, renders
// its Dockerfile and drives the Docker build and run steps.
package imagebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File is one regular file of a build context.
type File struct {
	Path   string
	Size   int64
	Digest string
}

// Context is the set of files sent to the image build.
type Context struct {
	Root  string
	Files []File
}

// Collect walks root and records every regular file. Nothing is filtered.
func Collect(root string) (Context, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Context{}, fmt.Errorf("stat build context: %w", err)
	}
	if !info.IsDir() {
		return Context{}, fmt.Errorf("build context %s is not a directory", root)
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		digest, size, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: filepath.ToSlash(rel), Size: size, Digest: digest})
		return nil
	})
	if err != nil {
		return Context{}, fmt.Errorf("walk build context: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return Context{Root: root, Files: files}, nil
}

// Digest is a sha256 over the sorted path and content digests. Identical
// trees produce identical digests regardless of where they live on disk.
func (c Context) Digest() string {
	files := append([]File(nil), c.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%s\n", f.Path, f.Digest)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Has reports whether the context contains path.
func (c Context) Has(path string) bool {
	for _, f := range c.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Size returns the total number of bytes in the context.
func (c Context) Size() int64 {
	var total int64
	for _, f := range c.Files {
		total += f.Size
	}
	return total
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
