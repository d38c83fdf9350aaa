// Package migrations embeds the SQL schema for the SQLite conversation store.
package migrations

import "embed"

// FS holds every *.up.sql file, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
