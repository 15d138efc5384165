// Package migrations embeds the gateway's SQL migration files into the binary.
//
// database.DB.Migrate reads them from FS, so no SQL files need to be present
// on the filesystem at runtime.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
