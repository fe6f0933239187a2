package migrations

import "embed"

// Files contains the goose SQL migrations in ascending order by filename.
//
//go:embed *.sql
var Files embed.FS
