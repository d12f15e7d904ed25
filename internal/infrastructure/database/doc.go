// Package database provides the SQLite connection behind the status journal.
//
// It manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the status API
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after open
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named NNNN_description.up.sql with an optional
// matching NNNN_description.down.sql. Versions sort as strings, so keep
// the numeric prefix zero-padded.
package database
