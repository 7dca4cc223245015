package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Ledger backed by a json file. The whole file is rewritten on
// every Add.
type File struct {
	Path    string
	mu      sync.Mutex
	entries []Entry
	index   map[string]bool
}

// NewFile loads the ledger at path. A missing file is an empty ledger.
func NewFile(path string) (*File, error) {
	f := &File{Path: path, index: map[string]bool{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("error reading ledger file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.entries); err != nil {
		return nil, fmt.Errorf("error parsing ledger file %s: %w", path, err)
	}
	for _, e := range f.entries {
		f.index[e.URL] = true
	}
	return f, nil
}

func (f *File) Contains(ctx context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index[url], nil
}

func (f *File) Add(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index[e.URL] {
		return nil
	}
	f.entries = append(f.entries, e)
	f.index[e.URL] = true
	return f.write()
}

func (f *File) write() error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(f.entries); err != nil {
		return fmt.Errorf("error while encoding ledger: %w", err)
	}
	// the file is replaced atomically
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buffer.Bytes(), 0644); err != nil {
		return fmt.Errorf("error while writing ledger: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f *File) Close() error { return nil }
