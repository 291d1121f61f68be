package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"terraguard/internal/config"
	"terraguard/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	id            BIGSERIAL PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	mode          TEXT NOT NULL,
	raw_row       JSONB,
	model_output  JSONB,
	hazard_level  INTEGER NOT NULL,
	alert_message TEXT NOT NULL DEFAULT ''
)`

// Postgres stores the step log in PostgreSQL. The mutex keeps inserts and
// clears in a single total order so ids match playback order.
type Postgres struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgres connects to cfg.DSN and ensures the records table exists.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	pcfg.MaxConns = 10
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pcfg.MinConns = 1
	if cfg.MaxIdleConns > 0 && int32(cfg.MaxIdleConns) <= pcfg.MaxConns {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	pcfg.MaxConnLifetime = 5 * time.Minute
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pcfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating postgres schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Insert(ctx context.Context, rec *Record) error {
	raw, out, err := encodePayload(rec)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	query := `
		INSERT INTO records (timestamp, mode, raw_row, model_output, hazard_level, alert_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err = p.pool.QueryRow(ctx, query,
		rec.Timestamp, string(rec.Mode), string(raw), string(out),
		rec.HazardLevel, rec.AlertMessage,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (p *Postgres) Fetch(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, timestamp, mode, raw_row::text, model_output::text, hazard_level, alert_message
		FROM records
		ORDER BY id ASC
		LIMIT $1`

	rows, err := p.pool.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var (
			rec      Record
			mode     string
			raw, out *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &mode, &raw, &out,
			&rec.HazardLevel, &rec.AlertMessage,
		); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		rec.Mode = model.Mode(mode)
		if err := decodePayload(&rec, bytesOf(raw), bytesOf(out)); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// Clear deletes every record. The id sequence is left alone.
func (p *Postgres) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.pool.Exec(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func bytesOf(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}
