package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/slicegate/internal/model"
)

// Reads retry briefly on transient failures (SQLITE_BUSY under WAL);
// an unavailable store is surfaced after that rather than retried for
// the rest of the request budget.
const (
	retryAttempts = 3
	retryBackoff  = 25 * time.Millisecond
)

// SQLiteStore implements RecordReader and PolicyStore over a SQLite
// database shared with the ingestion collaborators.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		salience    REAL NOT NULL DEFAULT 0,
		source      TEXT,
		content_ref TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_thread_ts ON records(thread_id, ts);

	CREATE TABLE IF NOT EXISTS record_links (
		from_id    TEXT NOT NULL REFERENCES records(id),
		to_id      TEXT NOT NULL REFERENCES records(id),
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON record_links(to_id);

	CREATE TABLE IF NOT EXISTS policies (
		row_id       TEXT PRIMARY KEY,
		id           TEXT NOT NULL,
		version      INTEGER NOT NULL,
		max_width    INTEGER NOT NULL,
		max_window   TEXT NOT NULL,
		min_salience REAL NOT NULL,
		ordering     TEXT NOT NULL,
		predicate    TEXT,
		follow_links INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		UNIQUE (id, version)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping probes connectivity with a trivial query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	var rec model.Record
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT id, thread_id, ts, salience, source, content_ref
			 FROM records WHERE id = ?`, id).
			Scan(&rec.ID, &rec.ThreadID, &tsScanner{&rec.Timestamp}, &rec.Salience,
				&nullStr{&rec.Source}, &nullStr{&rec.ContentRef})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get record: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetNeighbors(ctx context.Context, threadID string, from, to time.Time) ([]model.Record, error) {
	query := `SELECT id, thread_id, ts, salience, source, content_ref
	          FROM records WHERE thread_id = ?`
	args := []interface{}{threadID}
	if !from.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, to.UnixNano())
	}
	query += ` ORDER BY ts, id`

	var records []model.Record
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		records = records[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query neighbors: %v", ErrUnavailable, err)
	}
	return records, nil
}

func (s *SQLiteStore) CountThread(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM records WHERE thread_id = ?`, threadID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count thread: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *SQLiteStore) GetLinked(ctx context.Context, id string) ([]model.Record, error) {
	var records []model.Record
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, thread_id, ts, salience, source, content_ref
			 FROM records WHERE id IN (
				SELECT to_id FROM record_links WHERE from_id = ?
				UNION
				SELECT from_id FROM record_links WHERE to_id = ?
			 ) ORDER BY ts, id`, id, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		records = records[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query links: %v", ErrUnavailable, err)
	}
	return records, nil
}

func (s *SQLiteStore) SavePolicy(ctx context.Context, p model.Policy) error {
	var pred *string
	if p.Predicate != "" {
		pred = &p.Predicate
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (row_id, id, version, max_width, max_window, min_salience, ordering, predicate, follow_links, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), p.ID, p.Version, p.MaxWidth, p.MaxWindow.String(),
		p.MinSalience, p.Ordering, pred, boolInt(p.FollowLinks),
		p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: save policy: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) LoadPolicies(ctx context.Context) ([]model.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, max_width, max_window, min_salience, ordering, predicate, follow_links, created_at
		 FROM policies ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: load policies: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var policies []model.Policy
	for rows.Next() {
		var p model.Policy
		var window, createdAt string
		var pred sql.NullString
		var follow int
		if err := rows.Scan(&p.ID, &p.Version, &p.MaxWidth, &window, &p.MinSalience,
			&p.Ordering, &pred, &follow, &createdAt); err != nil {
			return nil, err
		}
		p.MaxWindow, _ = time.ParseDuration(window)
		p.Predicate = pred.String
		p.FollowLinks = follow != 0
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || errors.Is(err, sql.ErrNoRows) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.Record, error) {
	var rec model.Record
	err := row.Scan(&rec.ID, &rec.ThreadID, &tsScanner{&rec.Timestamp},
		&rec.Salience, &nullStr{&rec.Source}, &nullStr{&rec.ContentRef})
	return rec, err
}

// tsScanner reads an epoch-nanosecond column into a time.Time.
// Record timestamps are stored numeric so window bounds compare
// exactly at any precision; text timestamps would need a single
// canonical format for range comparisons to hold.
type tsScanner struct{ t *time.Time }

func (ts *tsScanner) Scan(v interface{}) error {
	n, ok := v.(int64)
	if !ok {
		return fmt.Errorf("timestamp column is %T, want int64", v)
	}
	*ts.t = time.Unix(0, n).UTC()
	return nil
}

// nullStr scans a nullable text column into a plain string.
type nullStr struct{ s *string }

func (n *nullStr) Scan(v interface{}) error {
	switch x := v.(type) {
	case nil:
		*n.s = ""
	case string:
		*n.s = x
	case []byte:
		*n.s = string(x)
	default:
		return fmt.Errorf("text column is %T", v)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
