package scraper

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStorageStateWrapsCookieArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`[{"name":"ct0","value":"x","domain":".x.com","path":"/","sameSite":"Lax"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, err := LoadStorageState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Cookies) != 1 || state.Cookies[0].Name != "ct0" || state.Cookies[0].SameSite != "Lax" {
		t.Fatalf("unexpected cookies %+v", state.Cookies)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var rewritten map[string]json.RawMessage
	if err := json.Unmarshal(data, &rewritten); err != nil {
		t.Fatalf("expected object after rewrite: %v", err)
	}
	if _, ok := rewritten["cookies"]; !ok {
		t.Fatalf("expected cookies key, got %s", data)
	}
	if string(rewritten["origins"]) != "[]" {
		t.Fatalf("expected empty origins, got %s", rewritten["origins"])
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected permissions preserved, got %v", info.Mode().Perm())
	}
}

func TestLoadStorageStateRejectsObjectWithoutCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"origins":[]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadStorageState(path); !errors.Is(err, ErrAuthStateInvalid) {
		t.Fatalf("expected ErrAuthStateInvalid, got %v", err)
	}
}

func TestLoadStorageStateMissing(t *testing.T) {
	if _, err := LoadStorageState(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrAuthStateMissing) {
		t.Fatalf("expected ErrAuthStateMissing, got %v", err)
	}
}

func TestCookieParamsSkipsNamelessEntries(t *testing.T) {
	params := cookieParams([]Cookie{{Name: "auth_token", Value: "v", SameSite: "None", Expires: 1750000000}, {Value: "orphan"}})
	if len(params) != 1 {
		t.Fatalf("expected 1 param got %d", len(params))
	}
	if string(params[0].SameSite) != "None" || float64(params[0].Expires) != 1750000000 {
		t.Fatalf("unexpected param %+v", params[0])
	}
}
