package db

import "embed"

// EmbedMigrations contains the embedded goose migrations that create the
// files and cache collections.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
