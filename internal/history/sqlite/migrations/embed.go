package migrations

import "embed"

// FS contains the embedded SQLite schema for round history.
//
//go:embed *.sql
var FS embed.FS
