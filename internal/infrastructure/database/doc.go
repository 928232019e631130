// Package database provides SQLite connectivity for the IoT relay.
//
// It manages:
//   - Connection setup with WAL mode and busy timeout pragmas
//   - Versioned schema migrations loaded from an fs.FS
//   - Transaction helpers
//
// The relay persists rules, scheduled tasks and append-only telemetry
// history here. Live device state is kept in memory and is never read back
// from the database.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive: new columns must be
// nullable or carry a default.
package database
