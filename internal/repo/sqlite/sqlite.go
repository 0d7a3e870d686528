package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/repo"
)

var _ repo.ResultStore = (*Store)(nil)

// Store is the durable result sink, one local sqlite file per agent.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	check_key   TEXT NOT NULL,
	checked_at  TIMESTAMP NOT NULL,
	ok          INTEGER NOT NULL,
	status_code INTEGER,
	duration_ms INTEGER NOT NULL,
	error_text  TEXT,
	details     TEXT
);
CREATE INDEX IF NOT EXISTS idx_results_key_at ON results (check_key, checked_at DESC);
`

func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// sqlite has one writer anyway; a single conn avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, r *domain.ResultRecord) error {
	var details any
	if len(r.Details) > 0 {
		b, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = string(b)
	}
	var status any
	if r.StatusCode != 0 {
		status = r.StatusCode
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (check_key, checked_at, ok, status_code, duration_ms, error_text, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CheckKey, r.CheckedAt.UTC(), boolToInt(r.OK), status, r.DurationMS, r.ErrorText, details,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) LastByCheck(ctx context.Context) (map[string]*domain.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.check_key, r.checked_at, r.ok, r.status_code, r.duration_ms, r.error_text, r.details
  FROM results r
  JOIN (SELECT check_key, MAX(id) AS max_id FROM results GROUP BY check_key) latest
    ON latest.max_id = r.id`)
	if err != nil {
		return nil, fmt.Errorf("last by check: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.ResultRecord)
	for rows.Next() {
		var (
			rec        domain.ResultRecord
			ok         int
			statusNull sql.NullInt64
			errNull    sql.NullString
			detNull    sql.NullString
		)
		if err := rows.Scan(&rec.CheckKey, &rec.CheckedAt, &ok, &statusNull, &rec.DurationMS, &errNull, &detNull); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.OK = ok != 0
		if statusNull.Valid {
			rec.StatusCode = int(statusNull.Int64)
		}
		rec.ErrorText = errNull.String
		if detNull.Valid && detNull.String != "" {
			if err := json.Unmarshal([]byte(detNull.String), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		r := rec
		out[rec.CheckKey] = &r
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
