package migrations

import "embed"

// FS holds the golang-migrate schema files for the Postgres history store.
//
//go:embed *.sql
var FS embed.FS
