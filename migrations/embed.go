// Package migrations embeds the PostgreSQL schema migrations.
package migrations

import "embed"

// FS holds the golang-migrate files under postgres/
//
//go:embed postgres/*.sql
var FS embed.FS

// Dir is the directory of the migration files inside FS
const Dir = "postgres"
