// Package migrations embeds the gateway schema so the migrate binary
// carries its own SQL.
package migrations

import "embed"

//go:embed sql seeds
var FS embed.FS

// Dirs inside FS.
const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
