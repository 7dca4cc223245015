// Package ledger remembers which listings have already been contacted so
// that no seller receives the same message twice, not even across runs.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mpreach/mpreach/internal/config"
)

// Entry is a contacted listing.
type Entry struct {
	URL    string    `json:"url"`
	Title  string    `json:"title,omitempty"`
	RunID  string    `json:"runId"`
	SentAt time.Time `json:"sentAt"`
}

// Ledger is the set of contacted listing urls.
type Ledger interface {
	Contains(ctx context.Context, url string) (bool, error)
	Add(ctx context.Context, e Entry) error
	Close() error
}

// New returns the ledger described by lc.
func New(ctx context.Context, lc *config.LedgerConfig) (Ledger, error) {
	switch lc.Type {
	case "none":
		return NewMemory(), nil
	case "file":
		return NewFile(lc.Path)
	case "sqlite":
		dsn := lc.DSN
		if dsn == "" {
			dsn = "contacted.db"
		}
		return NewSQL(ctx, Sqlite, dsn)
	case "mysql":
		return NewSQL(ctx, MySQL, lc.DSN)
	case "postgres":
		return NewSQL(ctx, Postgres, lc.DSN)
	default:
		return nil, fmt.Errorf("ledger of type '%s' not implemented", lc.Type)
	}
}
