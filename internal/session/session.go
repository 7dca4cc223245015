// Package session persists and restores the authenticated browsing
// session. The file format is a json list of cookie records as written by
// the login command (and by playwright's context.cookies()).
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrMissing is returned by Load if there is no session to restore.
var ErrMissing = errors.New("no saved session found, please run the login command first")

// Cookie is a single credential record of a session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// IsSessionCookie reports whether c lives only as long as the browser.
func (c Cookie) IsSessionCookie() bool {
	return c.Expires <= 0
}

// Expired reports whether c expired before t.
func (c Cookie) Expired(t time.Time) bool {
	if c.IsSessionCookie() {
		return false
	}
	return time.Unix(int64(c.Expires), 0).Before(t)
}

// Session is the opaque set of credential artifacts needed to browse
// without logging in again.
type Session struct {
	Cookies []Cookie
}

// Empty reports whether s carries no credentials at all.
func (s *Session) Empty() bool {
	return s == nil || len(s.Cookies) == 0
}

// Valid returns the cookies of s that have not expired at t.
func (s *Session) Valid(t time.Time) []Cookie {
	if s == nil {
		return nil
	}
	valid := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expired(t) {
			valid = append(valid, c)
		}
	}
	return valid
}

// Store reads and writes a session from and to a file.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the session file. A missing or empty file yields ErrMissing.
func (s *Store) Load() (*Session, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w (%s)", ErrMissing, s.Path)
		}
		return nil, fmt.Errorf("error reading session file %s: %w", s.Path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w (%s is empty)", ErrMissing, s.Path)
	}
	var cookies []Cookie
	if err := json.Unmarshal(b, &cookies); err != nil {
		return nil, fmt.Errorf("error parsing session file %s: %w", s.Path, err)
	}
	sess := &Session{Cookies: cookies}
	if sess.Empty() {
		return nil, fmt.Errorf("%w (%s has no cookies)", ErrMissing, s.Path)
	}
	return sess, nil
}

// Save writes sess to the session file, replacing any previous content.
func (s *Store) Save(sess *Session) error {
	if sess.Empty() {
		return errors.New("refusing to save an empty session")
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	b, err := json.MarshalIndent(sess.Cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("error while marshalling session: %w", err)
	}
	// the file holds credentials
	return os.WriteFile(s.Path, b, 0600)
}
