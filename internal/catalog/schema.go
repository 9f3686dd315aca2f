package catalog

import (
	"context"
	"database/sql"
)

// Init creates the transfers table.
func Init(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	file_num INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL,
	chunks INTEGER NOT NULL,
	expected_digest TEXT NOT NULL,
	actual_digest TEXT NOT NULL,
	outcome TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
`,
		`CREATE INDEX IF NOT EXISTS transfers_device ON transfers(device_id, id);`,
	}

	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
