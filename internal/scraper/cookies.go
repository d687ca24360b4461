package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrAuthStateMissing indicates the storage-state file does not exist.
	ErrAuthStateMissing = errors.New("scraper: auth state file not found")
	// ErrAuthStateInvalid indicates the storage-state file has an unexpected shape.
	ErrAuthStateInvalid = errors.New("scraper: invalid auth state file")
)

// Cookie mirrors a browser storage-state cookie entry.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageState is the saved session: cookies plus per-origin storage.
type StorageState struct {
	Cookies []Cookie          `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

// LoadStorageState reads the session file at path. A bare cookie array is
// accepted, wrapped into a storage state and written back in that form.
func LoadStorageState(path string) (StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StorageState{}, fmt.Errorf("%w: %s", ErrAuthStateMissing, path)
		}
		return StorageState{}, fmt.Errorf("read auth state: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return StorageState{}, fmt.Errorf("%w: %s: %v", ErrAuthStateInvalid, path, err)
	}

	switch v := raw.(type) {
	case []any:
		var cookies []Cookie
		if err := json.Unmarshal(data, &cookies); err != nil {
			return StorageState{}, fmt.Errorf("%w: %s: %v", ErrAuthStateInvalid, path, err)
		}
		state := StorageState{Cookies: cookies, Origins: []json.RawMessage{}}
		if err := writeStorageState(path, state); err != nil {
			return StorageState{}, err
		}
		return state, nil
	case map[string]any:
		if _, ok := v["cookies"]; !ok {
			return StorageState{}, fmt.Errorf("%w: %s: expected a top-level \"cookies\" key", ErrAuthStateInvalid, path)
		}
		var state StorageState
		if err := json.Unmarshal(data, &state); err != nil {
			return StorageState{}, fmt.Errorf("%w: %s: %v", ErrAuthStateInvalid, path, err)
		}
		if state.Origins == nil {
			state.Origins = []json.RawMessage{}
		}
		return state, nil
	default:
		return StorageState{}, fmt.Errorf("%w: %s: expected a top-level \"cookies\" key", ErrAuthStateInvalid, path)
	}
}

func writeStorageState(path string, state StorageState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}
	info, err := os.Stat(path)
	mode := os.FileMode(0o600)
	if err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, payload, mode); err != nil {
		return fmt.Errorf("rewrite auth state: %w", err)
	}
	return nil
}
