// Package migrations embeds the console's SQL migration files into the binary,
// so migrations run without the files being present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
