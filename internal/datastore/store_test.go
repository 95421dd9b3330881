package datastore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.Insert(ctx, TableServices, Row{"title": "Branding", "sort_order": 2})
	require.NoError(t, err)
	id, ok := created["id"].(string)
	require.True(t, ok)
	_, err = store.Insert(ctx, TableServices, Row{"title": "Web", "sort_order": 1})
	require.NoError(t, err)

	rows, err := store.Select(ctx, TableServices, Query{Order: "sort_order"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Web", rows[0]["title"])

	updated, err := store.Update(ctx, TableServices, id, Row{"title": "Brand identity"})
	require.NoError(t, err)
	assert.Equal(t, "Brand identity", updated["title"])
	assert.Equal(t, id, updated["id"])

	rows, err = store.Select(ctx, TableServices, Eq("sort_order", "2"))
	require.NoError(t, err)
	require.Len(t, rows, 1, "string filter matches typed value")

	require.NoError(t, store.Delete(ctx, TableServices, id))
	assert.ErrorIs(t, store.Delete(ctx, TableServices, id), ErrNotFound)
	_, err = store.Update(ctx, TableServices, id, Row{"title": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsUnknownTableAndColumns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Select(ctx, "secrets", Query{})
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = store.Select(ctx, TableProjects, Eq("title; drop table", "x"))
	assert.ErrorIs(t, err, ErrInvalidColumn)

	_, err = store.Insert(ctx, TableProjects, Row{"Bad-Column": 1})
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestMemoryStoreSelectReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(TableProjects)
	_, err := store.Insert(ctx, TableProjects, Row{"id": "p1", "title": "Atlas"})
	require.NoError(t, err)

	rows, err := store.Select(ctx, TableProjects, Query{})
	require.NoError(t, err)
	rows[0]["title"] = "mutated"

	rows, err = store.Select(ctx, TableProjects, Eq("id", "p1").WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, "Atlas", rows[0]["title"])
}

func TestBuildSelect(t *testing.T) {
	sql, args, err := buildSelect(TableUserRoles, Eq("user_id", "u1").Where("role", "administrator").WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "user_roles" WHERE "user_id" = $1 AND "role" = $2 LIMIT 1`, sql)
	assert.Equal(t, []any{"u1", "administrator"}, args)

	sql, _, err = buildSelect(TableProjects, Query{Order: "-created_at"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "projects" ORDER BY "created_at" DESC`, sql)
}

func TestBuildInsertAndUpdate(t *testing.T) {
	sql, args, err := buildInsert(TableIndustries, Row{"name": "Retail", "icon": "cart"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "industries" ("icon", "name") VALUES ($1, $2) RETURNING *`, sql)
	assert.Equal(t, []any{"cart", "Retail"}, args)

	sql, args, err = buildUpdate(TableIndustries, "i1", Row{"id": "ignored", "name": "Retail"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "industries" SET "name" = $1 WHERE id = $2 RETURNING *`, sql)
	assert.Equal(t, []any{"Retail", "i1"}, args)

	_, _, err = buildUpdate(TableIndustries, "i1", Row{"id": "only"})
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestPGStoreRejectsTablesOutsideAllowList(t *testing.T) {
	store := NewPGStore(nil, TableProjects)
	_, err := store.Select(context.Background(), TableUserRoles, Query{})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestNormalizeValueFormatsUUIDs(t *testing.T) {
	id := uuid.MustParse("6f1c7f36-3f0e-4a53-8d0b-2a4f0c1e9b10")
	assert.Equal(t, id.String(), normalizeValue([16]byte(id)))
	assert.Equal(t, int32(3), normalizeValue(int32(3)))
}
