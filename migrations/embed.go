// Package migrations embeds the Postgres schema applied by `server migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
