package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect selects SQL placeholder and type syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink mirrors journal entries into an action_journal table.
// It only writes; entries are never read back into the action store.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink wraps an open database.
func NewSQLSink(db *sql.DB, dialect Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect}
}

// OpenSink opens the journal database: postgres when databaseURL is set,
// otherwise sqlite at sqlitePath. The table is created if missing.
func OpenSink(ctx context.Context, databaseURL, sqlitePath string) (*SQLSink, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch {
	case databaseURL != "":
		dialect = DialectPostgres
		db, err = sql.Open("postgres", databaseURL)
	case sqlitePath != "":
		dialect = DialectSQLite
		if dir := filepath.Dir(sqlitePath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", mkErr)
			}
		}
		db, err = sql.Open("sqlite", sqlitePath)
	default:
		return nil, fmt.Errorf("audit: no journal database configured")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}

	sink := NewSQLSink(db, dialect)
	if err := sink.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS action_journal (
	entry_id TEXT PRIMARY KEY,
	sequence BIGINT NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	request_id TEXT NOT NULL,
	action TEXT NOT NULL,
	environment TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT,
	previous_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);
`

// Init creates the journal table.
func (s *SQLSink) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, journalSchema); err != nil {
		return fmt.Errorf("failed to init action_journal: %w", err)
	}
	return nil
}

// Write implements Sink.
func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	query := s.rebind(`
		INSERT INTO action_journal
			(entry_id, sequence, recorded_at, request_id, action, environment, requested_by, status, detail, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		e.EntryID, int64(e.Sequence), e.Timestamp, e.RequestID.String(), string(e.Action), string(e.Environment),
		e.RequestedBy, string(e.Status), e.Detail, e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %d: %w", e.Sequence, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
