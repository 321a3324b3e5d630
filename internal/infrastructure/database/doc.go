// Package database opens the bridge's SQLite file and applies its schema.
//
// The database holds the turnout registry (name, feedback mode, inversion
// and last known position) and the state history written by the turnout
// history recorder. Migrations are additive and embedded by the top-level
// migrations package:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The file is created 0600.
package database
