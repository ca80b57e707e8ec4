package flowchat

import "embed"

// MigrationsFS holds the embedded SQL migrations for the local state database.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
