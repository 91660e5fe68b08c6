// Package migrations embeds the SQL schema migrations. The statements stay
// within the subset shared by SQLite and PostgreSQL.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
