package imagebuild

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

const (
	manifestName = "go.mod"
	sumName      = "go.sum"
)

var (
	// ErrManifestMissing is returned when the source tree has no go.mod.
	ErrManifestMissing = errors.New("dependency manifest not found")
	// ErrManifestInvalid is returned when go.mod cannot be parsed.
	ErrManifestInvalid = errors.New("dependency manifest is invalid")
)

// Requirement is one dependency listed in the manifest.
type Requirement struct {
	Path     string
	Version  string
	Indirect bool
}

// Manifest summarises the module being packaged.
type Manifest struct {
	Module    string
	GoVersion string
	Requires  []Requirement
	HasSum    bool
}

// ParseManifest reads go.mod from dir.
func ParseManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	file, err := modfile.Parse(path, data, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if file.Module == nil || file.Module.Mod.Path == "" {
		return Manifest{}, fmt.Errorf("%w: missing module directive", ErrManifestInvalid)
	}

	m := Manifest{Module: file.Module.Mod.Path}
	if file.Go != nil {
		m.GoVersion = file.Go.Version
	}
	for _, r := range file.Require {
		m.Requires = append(m.Requires, Requirement{Path: r.Mod.Path, Version: r.Mod.Version, Indirect: r.Indirect})
	}
	if info, err := os.Stat(filepath.Join(dir, sumName)); err == nil && !info.IsDir() {
		m.HasSum = true
	}
	return m, nil
}

// Direct returns the requirements not marked indirect.
func (m Manifest) Direct() []Requirement {
	out := make([]Requirement, 0, len(m.Requires))
	for _, r := range m.Requires {
		if !r.Indirect {
			out = append(out, r)
		}
	}
	return out
}
