package storage

import (
	"context"
	"sync"
)

// Memory keeps the step log in process. Records are stored encoded so
// reads return the same normalized values as the database stores.
type Memory struct {
	mu     sync.Mutex
	rows   []memoryRow
	nextID int64
	closed bool
}

type memoryRow struct {
	rec      Record
	raw, out []byte
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Insert(_ context.Context, rec *Record) error {
	raw, out, err := encodePayload(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	rec.ID = m.nextID
	m.nextID++
	m.rows = append(m.rows, memoryRow{rec: *rec, raw: raw, out: out})
	return nil
}

func (m *Memory) Fetch(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	n := min(clampLimit(limit), len(m.rows))
	out := make([]Record, 0, n)
	for _, r := range m.rows[:n] {
		rec := Record{
			ID:           r.rec.ID,
			Timestamp:    r.rec.Timestamp,
			Mode:         r.rec.Mode,
			HazardLevel:  r.rec.HazardLevel,
			AlertMessage: r.rec.AlertMessage,
		}
		if err := decodePayload(&rec, r.raw, r.out); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear drops every record. Ids keep increasing across clears, as they do
// in an AUTOINCREMENT table.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.rows = nil
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
