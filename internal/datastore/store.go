// Package datastore defines the generic record store addressed by table name.
package datastore

import (
	"context"
	"errors"
	"regexp"
)

// Known tables.
const (
	TableProjects           = "projects"
	TableServices           = "services"
	TableIndustries         = "industries"
	TableContactSubmissions = "contact_submissions"
	TableUserRoles          = "user_roles"
)

var (
	// ErrUnknownTable indicates a table outside the allow-list.
	ErrUnknownTable = errors.New("datastore: unknown table")
	// ErrInvalidColumn indicates a column name that is not a plain identifier.
	ErrInvalidColumn = errors.New("datastore: invalid column")
	// ErrNotFound indicates an update or delete matched no row.
	ErrNotFound = errors.New("datastore: not found")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("datastore: forbidden")
)

// Row is a single record keyed by column name.
type Row map[string]any

// Filter matches rows whose Column equals Value.
type Filter struct {
	Column string
	Value  any
}

// Query narrows a Select call. Order names a column, prefixed with "-" for
// descending order.
type Query struct {
	Filters []Filter
	Limit   int
	Order   string
}

// Eq returns a Query with a single equality filter.
func Eq(column string, value any) Query {
	return Query{Filters: []Filter{{Column: column, Value: value}}}
}

// Where appends an equality filter.
func (q Query) Where(column string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Value: value})
	return q
}

// WithLimit sets the maximum number of rows returned.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Store is a create/read/update/delete record store. Every call returns rows
// or an error.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, id string, row Row) (Row, error)
	Delete(ctx context.Context, table string, id string) error
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidColumn reports whether name can be used as a column identifier.
func ValidColumn(name string) bool {
	return identPattern.MatchString(name)
}

// DefaultTables lists the tables served by the agency backend.
func DefaultTables() []string {
	return []string{TableProjects, TableServices, TableIndustries, TableContactSubmissions, TableUserRoles}
}

func validateQuery(q Query) error {
	for _, f := range q.Filters {
		if !ValidColumn(f.Column) {
			return ErrInvalidColumn
		}
	}
	if q.Order != "" {
		col := q.Order
		if col[0] == '-' {
			col = col[1:]
		}
		if !ValidColumn(col) {
			return ErrInvalidColumn
		}
	}
	return nil
}

func validateRow(row Row) error {
	for col := range row {
		if !ValidColumn(col) {
			return ErrInvalidColumn
		}
	}
	return nil
}
