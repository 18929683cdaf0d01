package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Options tunes Open.
type Options struct {
	// CommandRetention drops resolved command log entries older than this
	// when the database is opened. Zero keeps the whole log.
	CommandRetention time.Duration
}

// DB is the link's local command log, outbox and operator table.
type DB struct {
	*sql.DB

	// Abandoned is how many commands a previous run left unresolved. Their
	// acknowledgments can never arrive, so Open marks them abandoned.
	Abandoned int64
	// Pruned is how many log entries Open dropped under CommandRetention.
	Pruned int64
}

// Open opens (or creates) the command log with default options.
func Open(path string) (*DB, error) {
	return OpenWith(path, Options{})
}

// OpenWith opens (or creates) the command log, applies the schema and
// settles whatever the previous run left behind.
func OpenWith(path string, opts Options) (*DB, error) {
	// modernc.org/sqlite reads connection pragmas from _pragma parameters.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; engine listeners and HTTP readers share it.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.settle(opts); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) settle(opts Options) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	res, err := db.Exec(`UPDATE commands SET status = ?, resolved_at = datetime('now','localtime') WHERE status = ?`,
		StatusAbandoned, StatusPending)
	if err != nil {
		return fmt.Errorf("abandon pending commands: %w", err)
	}
	db.Abandoned, _ = res.RowsAffected()

	if opts.CommandRetention > 0 {
		if db.Pruned, err = db.PruneCommands(opts.CommandRetention); err != nil {
			return err
		}
	}
	return nil
}
