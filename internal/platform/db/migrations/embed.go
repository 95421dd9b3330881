// Package migrations embeds the schema migrations applied by platform/db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
