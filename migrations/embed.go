// Package migrations embeds the SQL schema applied by `quant migrate`.
package migrations

import "embed"

// Files holds every *.sql migration in lexical order
//
//go:embed *.sql
var Files embed.FS
