// Package database provides SQLite connectivity for the IoT console.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations through golang-migrate, reading embedded SQL files
//   - Health checks and a small transaction helper
//
// All repositories (devices, device logs, users, tokens) share one *DB.
// SQLite has a single writer, so the pool is capped at one connection.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
