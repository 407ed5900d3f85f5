// Package migrations embeds the SQL schema applied at start-up.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
