package migrations

import "embed"

// FS holds the golang-migrate SQL files for relay.db.
//
//go:embed *.sql
var FS embed.FS
