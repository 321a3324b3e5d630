// Package migrations embeds the SQL schema into the binary so the bridge can
// migrate a fresh database without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
