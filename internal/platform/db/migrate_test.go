package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-digital/agency/internal/platform/db/migrations"
)

func TestMigrationsCreateExposedTables(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(migrations.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(migrations.FS, path)
		if err != nil {
			return err
		}
		all.Write(data)
		return nil
	})
	require.NoError(t, err)

	for _, table := range []string{"users", "user_roles", "projects", "services", "industries", "contact_submissions"} {
		assert.Contains(t, all.String(), "CREATE TABLE "+table+" (", table)
	}
	assert.Contains(t, all.String(), "-- +goose Up")
}
