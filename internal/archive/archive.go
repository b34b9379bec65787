// Package archive keeps a SQLite history of messages that left the mailbox,
// either evicted by the retention cap or removed by clear.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/pkg/board"
	_ "modernc.org/sqlite"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS archived_messages (
	id            TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL,
	ts_ms         INTEGER NOT NULL,
	from_agent    TEXT NOT NULL,
	to_agent      TEXT NOT NULL,
	body          TEXT NOT NULL,
	priority      TEXT NOT NULL DEFAULT 'normal',
	context       TEXT NOT NULL DEFAULT '',
	was_read      INTEGER NOT NULL DEFAULT 0,
	reason        TEXT NOT NULL,
	archived_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_to_ts ON archived_messages(to_agent, ts_ms);
CREATE INDEX IF NOT EXISTS idx_archived_from_ts ON archived_messages(from_agent, ts_ms);
`

// Entry is one archived message.
type Entry struct {
	board.Message
	Reason     string
	ArchivedAt time.Time
}

// Archive is the message history database.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the archive database at path and migrates it.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &Archive{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Archive stores msgs with the reason they left the mailbox.
// Re-archiving a message id is ignored.
func (a *Archive) Archive(ctx context.Context, msgs []board.Message, reason string) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO archived_messages
			(id, seq, ts_ms, from_agent, to_agent, body, priority, context, was_read, reason, archived_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	archivedMs := a.now().UnixMilli()
	for _, m := range msgs {
		read := 0
		if m.Read {
			read = 1
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.Seq, m.Timestamp.UnixMilli(), m.From, m.To, m.Body,
			string(m.Priority), m.Context, read, reason, archivedMs); err != nil {
			return fmt.Errorf("archive message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Query returns archived messages matching criteria, newest first.
// limit <= 0 means no limit.
func (a *Archive) Query(ctx context.Context, criteria filter.Criteria, limit int) ([]Entry, error) {
	var where []string
	var args []any
	if criteria.Agent != "" {
		where = append(where, "(to_agent = ? OR from_agent = ?)")
		args = append(args, criteria.Agent, criteria.Agent)
	}
	if criteria.SinceTimestampMs > 0 {
		where = append(where, "ts_ms >= ?")
		args = append(args, criteria.SinceTimestampMs)
	}
	if criteria.UntilTimestampMs > 0 {
		where = append(where, "ts_ms <= ?")
		args = append(args, criteria.UntilTimestampMs)
	}

	q := `SELECT id, seq, ts_ms, from_agent, to_agent, body, priority, context, was_read, reason, archived_ms
		FROM archived_messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ms DESC, seq DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tsMs, archivedMs int64
		var priority string
		var read int
		if err := rows.Scan(&e.ID, &e.Seq, &tsMs, &e.From, &e.To, &e.Body, &priority, &e.Context, &read, &e.Reason, &archivedMs); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		e.ArchivedAt = time.UnixMilli(archivedMs).UTC()
		e.Priority = board.Priority(priority)
		e.Read = read == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of archived messages.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}
