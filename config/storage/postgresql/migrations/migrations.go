package migrations

import "embed"

// MigrationsFS embeds the SQL migrations of the run history schema
//
//go:embed *.sql
var MigrationsFS embed.FS
