// Package migrations embeds the SQL schema of the relay message store.
package migrations

import "embed"

// Files is applied by startup.RunMigrations in name order, starting with 001_messages.sql.
//
//go:embed *.sql
var Files embed.FS
