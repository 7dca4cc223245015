package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mpreach/mpreach/internal/config"
)

func testLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	u := "https://market.test/marketplace/item/1/"
	found, err := l.Contains(ctx, u)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected an empty ledger")
	}
	e := Entry{URL: u, Title: "4 chairs", RunID: "run-1", SentAt: time.Now()}
	if err := l.Add(ctx, e); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	// adding twice is fine
	if err := l.Add(ctx, e); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	found, err = l.Contains(ctx, u)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected %s to be in the ledger", u)
	}
	found, _ = l.Contains(ctx, "https://market.test/marketplace/item/2/")
	if found {
		t.Fatalf("did not expect item 2 to be in the ledger")
	}
}

func TestMemory(t *testing.T) {
	testLedger(t, NewMemory())
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", "contacted.json")
	l, err := NewFile(p)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	testLedger(t, l)

	// a new run sees the entries of the previous one
	l2, err := NewFile(p)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	found, _ := l2.Contains(context.Background(), "https://market.test/marketplace/item/1/")
	if !found {
		t.Fatalf("expected the entry to survive a reload")
	}
	if len(l2.entries) != 1 {
		t.Fatalf("expected 1 entry but got %d", len(l2.entries))
	}
}

func TestFileInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "contacted.json")
	if err := os.WriteFile(p, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(p); err == nil {
		t.Fatalf("expected an error for an invalid ledger file")
	}
}

func TestSqlite(t *testing.T) {
	p := filepath.Join(t.TempDir(), "contacted.db")
	l, err := NewSQL(context.Background(), Sqlite, p)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	testLedger(t, l)
	if err := l.Close(); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	l2, err := NewSQL(context.Background(), Sqlite, p)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	defer l2.Close()
	found, err := l2.Contains(context.Background(), "https://market.test/marketplace/item/1/")
	if err != nil || !found {
		t.Fatalf("expected the entry to survive a reconnect, found=%v err=%v", found, err)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{Sqlite, "SELECT 1 FROM t WHERE a = ? AND b = ?", "SELECT 1 FROM t WHERE a = ? AND b = ?"},
		{Postgres, "SELECT 1 FROM t WHERE a = ? AND b = ?", "SELECT 1 FROM t WHERE a = $1 AND b = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		result := tt.dialect.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("%s rebind(%q) = %q; want %q", tt.dialect.Name, tt.input, result, tt.expected)
		}
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		lc      config.LedgerConfig
		wantErr bool
	}{
		{config.LedgerConfig{Type: "none"}, false},
		{config.LedgerConfig{Type: "file", Path: filepath.Join(dir, "contacted.json")}, false},
		{config.LedgerConfig{Type: "sqlite", DSN: filepath.Join(dir, "contacted.db")}, false},
		{config.LedgerConfig{Type: "mysql"}, true},
		{config.LedgerConfig{Type: "redis"}, true},
	}

	for _, tt := range tests {
		l, err := New(context.Background(), &tt.lc)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) error = %v; wantErr %v", tt.lc, err, tt.wantErr)
			continue
		}
		if l != nil {
			l.Close()
		}
	}
}
