// Package database provides SQLite connectivity for the IoT gateway store.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enabled
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Constraint error classification for repositories
//
// All queries use parameterised statements. The database file is chmod 0600
// because server profiles carry broker credentials.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
