// Package migrations embeds the goose migrations shared by the SQLite and
// Postgres backends. Statements stay within the SQL both engines accept.
package migrations

import "embed"

// FS holds the versioned migration files.
//
//go:embed *.sql
var FS embed.FS
