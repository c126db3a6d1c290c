// Package migrations embeds the gym schema migrations.
package migrations

import "embed"

// FS contains the ordered SQL migration files for the gym store.
//
//go:embed *.sql
var FS embed.FS
