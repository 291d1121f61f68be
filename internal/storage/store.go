// Package storage persists simulation steps as an append-only log.
package storage

import (
	"context"
	"errors"
	"fmt"

	"terraguard/internal/config"
)

var ErrClosed = errors.New("store is closed")

// Store is the step log. Implementations serialize Insert, Fetch and
// Clear so they are safe to call from the simulation loop and request
// handlers concurrently. Insert assigns Record.ID in insertion order.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	// Fetch returns up to limit records, oldest first.
	Fetch(ctx context.Context, limit int) ([]Record, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
