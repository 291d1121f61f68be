package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"terraguard/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	raw_row       TEXT,
	model_output  TEXT,
	hazard_level  INTEGER NOT NULL,
	alert_message TEXT NOT NULL DEFAULT ''
);
`

// SQLite is the default file-backed store.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" gives a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite schema: %w", err)
	}

	log.Info().Str("path", path).Msg("opened SQLite step log")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Insert(ctx context.Context, rec *Record) error {
	raw, out, err := encodePayload(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (timestamp, mode, raw_row, model_output, hazard_level, alert_message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), string(rec.Mode),
		string(raw), string(out), rec.HazardLevel, rec.AlertMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading record id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLite) Fetch(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, mode, raw_row, model_output, hazard_level, alert_message
		 FROM records ORDER BY id ASC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var (
			rec      Record
			ts, mode string
			raw, out sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &mode, &raw, &out, &rec.HazardLevel, &rec.AlertMessage); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		rec.Mode = model.Mode(mode)
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp of record %d: %w", rec.ID, err)
		}
		if err := decodePayload(&rec, []byte(raw.String), []byte(out.String)); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (s *SQLite) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
