// Package migrations embeds the relay's SQL schema into the binary.
//
// Importing this package registers the files with the database package:
//
//	import _ "github.com/nerrad567/iotrelay/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/iotrelay/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
