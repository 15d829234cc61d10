package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string        `json:"db_path"`
	DBSizeBytes int64         `json:"db_size_bytes"`
	Records     int           `json:"records"`
	Threads     int           `json:"threads"`
	Links       int           `json:"links"`
	Policies    int           `json:"policy_versions"`
	PerThread   []ThreadStats `json:"top_threads,omitempty"`
}

// ThreadStats holds per-thread record counts.
type ThreadStats struct {
	ThreadID string `json:"thread_id"`
	Count    int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&st.Records)
	s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT thread_id) FROM records`).Scan(&st.Threads)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM record_links`).Scan(&st.Links)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&st.Policies)

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*) as cnt
		FROM records GROUP BY thread_id
		ORDER BY cnt DESC LIMIT 10`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ts ThreadStats
		rows.Scan(&ts.ThreadID, &ts.Count)
		st.PerThread = append(st.PerThread, ts)
	}

	return st, nil
}
