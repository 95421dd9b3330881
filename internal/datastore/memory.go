package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Values are compared by their string
// form so filters coming from query strings match typed values.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore constructs a MemoryStore serving the provided tables.
func NewMemoryStore(tables ...string) *MemoryStore {
	if len(tables) == 0 {
		tables = DefaultTables()
	}
	m := &MemoryStore{tables: make(map[string][]Row, len(tables))}
	for _, t := range tables {
		m.tables[t] = nil
	}
	return m
}

// Select returns copies of the rows matching q.
func (m *MemoryStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matches(row, q.Filters) {
			out = append(out, cloneRow(row))
		}
	}
	if q.Order != "" {
		col, desc := q.Order, false
		if col[0] == '-' {
			col, desc = col[1:], true
		}
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][col]), fmt.Sprint(out[j][col])
			if desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert stores row, assigning an id when missing.
func (m *MemoryStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := validateRow(row); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		return nil, ErrUnknownTable
	}
	stored := cloneRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}
	m.tables[table] = append(m.tables[table], stored)
	return cloneRow(stored), nil
}

// Update merges row into the record with the given id.
func (m *MemoryStore) Update(ctx context.Context, table string, id string, row Row) (Row, error) {
	if err := validateRow(row); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	for _, existing := range rows {
		if fmt.Sprint(existing["id"]) != id {
			continue
		}
		for k, v := range row {
			if k == "id" {
				continue
			}
			existing[k] = v
		}
		return cloneRow(existing), nil
	}
	return nil, ErrNotFound
}

// Delete removes the record with the given id.
func (m *MemoryStore) Delete(ctx context.Context, table string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return ErrUnknownTable
	}
	for i, existing := range rows {
		if fmt.Sprint(existing["id"]) == id {
			m.tables[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		v, ok := row[f.Column]
		if !ok || fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
