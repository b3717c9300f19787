package migrations

import "embed"

// Files exposes the embedded schema files. Top-level *.sql targets Postgres,
// sqlite/*.sql carries the SQLite dialect of the same schema.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
