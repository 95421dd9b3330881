package datastore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx used by PGStore.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore implements Store on PostgreSQL for an allow-list of tables.
type PGStore struct {
	db     Querier
	tables map[string]struct{}
}

// NewPGStore constructs a PGStore. When no tables are given DefaultTables is used.
func NewPGStore(db Querier, tables ...string) *PGStore {
	if len(tables) == 0 {
		tables = DefaultTables()
	}
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[t] = struct{}{}
	}
	return &PGStore{db: db, tables: allowed}
}

// Select runs a filtered read.
func (s *PGStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	sql, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, sql, args)
}

// Insert adds a row and returns it as stored.
func (s *PGStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	sql, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}
	rows, err := s.collect(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("datastore: insert %s: no row returned", table)
	}
	return rows[0], nil
}

// Update modifies the row with the given id.
func (s *PGStore) Update(ctx context.Context, table string, id string, row Row) (Row, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	sql, args, err := buildUpdate(table, id, row)
	if err != nil {
		return nil, err
	}
	rows, err := s.collect(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// Delete removes the row with the given id.
func (s *PGStore) Delete(ctx context.Context, table string, id string) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	sql := "DELETE FROM " + pgx.Identifier{table}.Sanitize() + " WHERE id = $1"
	tag, err := s.db.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("datastore: delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) checkTable(table string) error {
	if _, ok := s.tables[table]; !ok {
		return ErrUnknownTable
	}
	return nil
}

func (s *PGStore) collect(ctx context.Context, sql string, args []any) ([]Row, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translatePGError(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translatePGError(err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		for k, v := range m {
			m[k] = normalizeValue(v)
		}
		out[i] = Row(m)
	}
	return out, nil
}

// normalizeValue turns driver-native values into JSON friendly ones.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}

func translatePGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42703":
			return fmt.Errorf("%w: %s", ErrInvalidColumn, pgErr.Message)
		case "22P02":
			return ErrNotFound
		}
	}
	return fmt.Errorf("datastore: query: %w", err)
}

func buildSelect(table string, q Query) (string, []any, error) {
	if err := validateQuery(q); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	args := make([]any, 0, len(q.Filters))
	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		b.WriteString(pgx.Identifier{f.Column}.Sanitize())
		b.WriteString(" = $")
		b.WriteString(strconv.Itoa(len(args)))
	}
	if q.Order != "" {
		col, dir := q.Order, "ASC"
		if col[0] == '-' {
			col, dir = col[1:], "DESC"
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(pgx.Identifier{col}.Sanitize())
		b.WriteString(" ")
		b.WriteString(dir)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

func buildInsert(table string, row Row) (string, []any, error) {
	if err := validateRow(row); err != nil {
		return "", nil, err
	}
	cols := sortedColumns(row)
	if len(cols) == 0 {
		return "INSERT INTO " + pgx.Identifier{table}.Sanitize() + " DEFAULT VALUES RETURNING *", nil, nil
	}
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
		args[i] = row[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

func buildUpdate(table, id string, row Row) (string, []any, error) {
	if err := validateRow(row); err != nil {
		return "", nil, err
	}
	cols := sortedColumns(row)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		args = append(args, row[c])
		sets = append(sets, pgx.Identifier{c}.Sanitize()+" = $"+strconv.Itoa(len(args)))
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("%w: no columns to update", ErrInvalidColumn)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args))
	return sql, args, nil
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

var _ Store = (*PGStore)(nil)
