package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = files
	MigrationsDir = "."
}

func testMigrationFiles() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_devices.up.sql":    {Data: []byte("CREATE TABLE devices (id TEXT PRIMARY KEY);")},
		"20260101_000000_devices.down.sql":  {Data: []byte("DROP TABLE devices;")},
		"20260102_000000_readings.up.sql":   {Data: []byte("CREATE TABLE readings (id INTEGER PRIMARY KEY);")},
		"20260102_000000_readings.down.sql": {Data: []byte("DROP TABLE readings;")},
		"README.md":                         {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrationFiles())
	ctx := context.Background()

	db, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	for _, table := range []string{"devices", "readings"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("first applied = %s, want 20260101_000000", applied[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrationFiles())
	ctx := context.Background()

	db, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "readings") {
		t.Error("readings should be dropped after MigrateDown")
	}
	if !tableExists(t, db, "devices") {
		t.Error("devices should survive a single MigrateDown")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestMigrate_FailureStopsAtBrokenMigration(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_good.up.sql":   {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE oops (")},
	})
	ctx := context.Background()

	db, err := Open(Config{Path: memoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() error = nil, want error for broken migration")
	}
	if !tableExists(t, db, "good") {
		t.Error("migration before the broken one should stay committed")
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() error = nil, want error for down-only migration")
	}
}
