package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Command status values.
const (
	StatusPending   = "pending"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// CommandRecord is one entry of the command log.
type CommandRecord struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ElapsedMS  int64      `json:"elapsed_ms"`
	SentAt     time.Time  `json:"sent_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

const commandSelect = `SELECT id, command, kind, status, result, error, elapsed_ms, sent_at, resolved_at FROM commands`

func scanCommand(scan func(dest ...interface{}) error) (*CommandRecord, error) {
	c := &CommandRecord{}
	var sentAt string
	var resolvedAt sql.NullString
	if err := scan(&c.ID, &c.Command, &c.Kind, &c.Status, &c.Result, &c.Error, &c.ElapsedMS, &sentAt, &resolvedAt); err != nil {
		return nil, err
	}
	c.SentAt = parseTime(sentAt)
	c.ResolvedAt = parseNullTime(resolvedAt)
	return c, nil
}

// InsertCommand records a transmitted command as pending.
func (db *DB) InsertCommand(id, command, kind string) (*CommandRecord, error) {
	if _, err := db.Exec(`INSERT INTO commands (id, command, kind) VALUES (?, ?, ?)`, id, command, kind); err != nil {
		return nil, fmt.Errorf("insert command: %w", err)
	}
	return db.GetCommand(id)
}

// CompleteCommand records the outcome of a command. Completing an unknown or
// already resolved command is an error.
func (db *DB) CompleteCommand(id, status, result, errMsg string, elapsed time.Duration) error {
	res, err := db.Exec(`UPDATE commands SET status = ?, result = ?, error = ?, elapsed_ms = ?, resolved_at = datetime('now','localtime')
		WHERE id = ? AND status = 'pending'`, status, result, errMsg, elapsed.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("complete command: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("complete command %s: not pending", id)
	}
	return nil
}

func (db *DB) GetCommand(id string) (*CommandRecord, error) {
	return scanCommand(db.QueryRow(commandSelect+` WHERE id = ?`, id).Scan)
}

// ListCommands returns the most recent commands, newest first.
func (db *DB) ListCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(commandSelect+` ORDER BY sent_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRecord
	for rows.Next() {
		c, err := scanCommand(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// PruneCommands deletes resolved entries sent more than age ago. Pending
// entries are kept whatever their age.
func (db *DB) PruneCommands(age time.Duration) (int64, error) {
	res, err := db.Exec(`DELETE FROM commands WHERE status != ? AND sent_at < ?`, StatusPending, cutoff(age))
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return res.RowsAffected()
}
