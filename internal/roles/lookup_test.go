package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-digital/agency/internal/datastore"
)

type countingStore struct {
	datastore.Store
	selects int
	err     error
}

func (c *countingStore) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	c.selects++
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.Select(ctx, table, q)
}

func TestLookupScopesToUser(t *testing.T) {
	ctx := context.Background()
	mem := datastore.NewMemoryStore()
	require.NoError(t, Grant(ctx, mem, Assignment{UserID: "u1", Role: Administrator}))
	require.NoError(t, Grant(ctx, mem, Assignment{UserID: "u2", Role: "editor"}))

	ok, err := IsAdministrator(ctx, mem, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsAdministrator(ctx, mem, "u2")
	require.NoError(t, err)
	assert.False(t, ok, "other roles do not count")

	ok, err = IsAdministrator(ctx, mem, "u3")
	require.NoError(t, err)
	assert.False(t, ok, "no row is a successful false")
}

func TestLookupEmptyUserSkipsStore(t *testing.T) {
	store := &countingStore{Store: datastore.NewMemoryStore()}
	ok, err := IsAdministrator(context.Background(), store, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.selects)
}

func TestLookupWrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := &countingStore{Store: datastore.NewMemoryStore(), err: boom}
	ok, err := IsAdministrator(context.Background(), store, "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.selects)
}
