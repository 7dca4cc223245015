package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cookies.json"))
	_, err := s.Load()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing but got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	for _, content := range []string{"", "  \n", "[]"} {
		p := filepath.Join(t.TempDir(), "cookies.json")
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := NewStore(p).Load()
		if !errors.Is(err, ErrMissing) {
			t.Errorf("content %q: expected ErrMissing but got %v", content, err)
		}
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(p, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewStore(p).Load()
	if err == nil || errors.Is(err, ErrMissing) {
		t.Fatalf("expected a parse error but got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "cookies.json")
	s := NewStore(p)
	in := &Session{Cookies: []Cookie{
		{Name: "c_user", Value: "123", Domain: ".facebook.com", Path: "/", Expires: 1893456000, Secure: true, SameSite: "None"},
		{Name: "presence", Value: "abc", Domain: ".facebook.com", Path: "/", Expires: -1},
	}}
	if err := s.Save(in); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected file mode 0600 but got %v", info.Mode().Perm())
	}
	out, err := s.Load()
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if len(out.Cookies) != 2 {
		t.Fatalf("expected 2 cookies but got %d", len(out.Cookies))
	}
	if out.Cookies[0] != in.Cookies[0] || out.Cookies[1] != in.Cookies[1] {
		t.Fatalf("expected %+v but got %+v", in.Cookies, out.Cookies)
	}
}

func TestSaveEmptySession(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cookies.json"))
	if err := s.Save(&Session{}); err == nil {
		t.Fatalf("expected an error when saving an empty session")
	}
}

func TestValidCookies(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := &Session{Cookies: []Cookie{
		{Name: "expired", Expires: 1600000000},
		{Name: "session", Expires: -1},
		{Name: "future", Expires: 1800000000},
	}}
	valid := s.Valid(now)
	if len(valid) != 2 || valid[0].Name != "session" || valid[1].Name != "future" {
		t.Fatalf("unexpected valid cookies %+v", valid)
	}
}
