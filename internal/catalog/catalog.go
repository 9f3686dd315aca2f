package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome is how a fully assembled transfer ended.
type Outcome string

const (
	OutcomeSaved    Outcome = "SAVED"
	OutcomeMismatch Outcome = "MISMATCH"
	OutcomeFailed   Outcome = "WRITE_FAILED"
)

// Record describes one assembled file.
type Record struct {
	ID             int64
	DeviceID       string
	FileNum        int
	Name           string
	Path           string
	Size           int
	Chunks         int
	ExpectedDigest string
	ActualDigest   string
	Outcome        Outcome
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Catalog is a sqlite ledger of transfer outcomes. It is write-mostly and
// never consulted by the protocol.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if err := Init(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Record appends r to the ledger.
func (c *Catalog) Record(ctx context.Context, r Record) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO transfers (device_id, file_num, name, path, size, chunks, expected_digest, actual_digest, outcome, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.FileNum, r.Name, r.Path, r.Size, r.Chunks,
		r.ExpectedDigest, r.ActualDigest, string(r.Outcome),
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

// Recent returns up to limit records for deviceID, newest first.
func (c *Catalog) Recent(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT id, device_id, file_num, name, path, size, chunks, expected_digest, actual_digest, outcome, started_at, finished_at
FROM transfers
WHERE device_id = ?
ORDER BY id DESC
LIMIT ?
`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var outcome, started, finished string
		if err := rows.Scan(
			&r.ID, &r.DeviceID, &r.FileNum, &r.Name, &r.Path, &r.Size, &r.Chunks,
			&r.ExpectedDigest, &r.ActualDigest, &outcome, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		r.Outcome = Outcome(outcome)
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
