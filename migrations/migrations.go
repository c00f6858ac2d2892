// Package migrations embeds the SQL schema migrations for the records store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
