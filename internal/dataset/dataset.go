// Package dataset loads sensor recordings and serves them row by row.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrIndexOutOfRange = errors.New("index out of bounds")
	ErrEmpty           = errors.New("dataset is empty")
	ErrUnreadable      = errors.New("dataset unreadable")
)

// Table is an immutable, fully loaded dataset.
type Table struct {
	path    string
	columns []string
	rows    [][]any
}

// NewTable builds a table in memory. Every row must have len(columns) cells.
func NewTable(columns []string, rows [][]any) *Table {
	return &Table{columns: columns, rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns the header in file order.
func (t *Table) Columns() []string { return t.columns }

// Path returns the file the table was read from, if any.
func (t *Table) Path() string { return t.path }

// Row returns the row at index.
func (t *Table) Row(index int) (Row, error) {
	if index < 0 || index >= t.Len() {
		return Row{}, fmt.Errorf("row %d of %d: %w", index, t.Len(), ErrIndexOutOfRange)
	}
	return NewRow(t.columns, t.rows[index]), nil
}

// Read parses a dataset file. CSV and Excel workbooks are recognised by
// extension; anything else is tried as CSV.
func Read(path string) (*Table, error) {
	var (
		t   *Table
		err error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		t, err = readCSVFile(path)
	case ".xlsx", ".xlsm", ".xls":
		t, err = readWorkbook(path)
	default:
		t, err = readCSVFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("generic dataset read failed, treating as empty")
			t, err = &Table{}, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	t.path = path
	return t, nil
}

// Loader is the shared dataset accessor. A successful Load swaps the
// active table atomically; readers always see a complete table.
type Loader struct {
	mu    sync.RWMutex
	table *Table
}

func NewLoader() *Loader {
	return &Loader{}
}

// Load reads path and makes it the active dataset. On failure the
// previously loaded table stays active.
func (l *Loader) Load(path string) error {
	t, err := Read(path)
	if err != nil {
		return err
	}
	l.Set(t)

	log.Info().
		Str("path", path).
		Int("rows", t.Len()).
		Int("columns", len(t.columns)).
		Msg("dataset loaded")
	return nil
}

// Set replaces the active table.
func (l *Loader) Set(t *Table) {
	l.mu.Lock()
	l.table = t
	l.mu.Unlock()
}

// Len returns the number of rows in the active table.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Len()
}

// Row returns the row at index from the active table.
func (l *Loader) Row(index int) (Row, error) {
	l.mu.RLock()
	t := l.table
	l.mu.RUnlock()

	if t == nil {
		return Row{}, fmt.Errorf("row %d: no dataset loaded: %w", index, ErrIndexOutOfRange)
	}
	return t.Row(index)
}

// Path returns the path of the active table.
func (l *Loader) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.table == nil {
		return ""
	}
	return l.table.path
}
