package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name   string
	Driver string
	Upsert string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

var (
	Sqlite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite3",
		Upsert: `INSERT OR REPLACE INTO contacted_listings (url, title, run_id, sent_at) VALUES (?, ?, ?, ?)`,
	}
	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		Upsert: `INSERT INTO contacted_listings (url, title, run_id, sent_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE title = VALUES(title), run_id = VALUES(run_id), sent_at = VALUES(sent_at)`,
	}
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "pgx",
		Upsert: `INSERT INTO contacted_listings (url, title, run_id, sent_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title, run_id = EXCLUDED.run_id, sent_at = EXCLUDED.sent_at`,
		Numbered: true,
	}
)

const schema = `CREATE TABLE IF NOT EXISTS contacted_listings (
	url VARCHAR(512) PRIMARY KEY,
	title TEXT,
	run_id VARCHAR(64),
	sent_at TIMESTAMP
)`

// rebind rewrites '?' placeholders for dialects with numbered ones.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQL is a Ledger stored in the contacted_listings table of a database.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL connects to the database and creates the table if necessary.
func NewSQL(ctx context.Context, d Dialect, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("a dsn is required for the " + d.Name + " ledger")
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.Name, err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.Name, err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Contains(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM contacted_listings WHERE url = ?`), url).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return true, nil
}

func (s *SQL) Add(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.Upsert), e.URL, e.Title, e.RunID, e.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry %s: %w", e.URL, err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
