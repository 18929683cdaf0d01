package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownOperator is returned for a username with no operator row.
var ErrUnknownOperator = errors.New("unknown operator")

// Operator may fly the drone through the HTTP API. Usernames compare
// case-insensitively.
type Operator struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// HasOperators reports whether anyone has been registered. Until then the
// first login registers its credentials.
func (db *DB) HasOperators() (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM operators`).Scan(&n)
	return n > 0, err
}

func (db *DB) CreateOperator(username, passwordHash string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("create operator: empty username")
	}
	res, err := db.Exec(`INSERT INTO operators (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("create operator %q: %w", username, err)
	}
	return res.LastInsertId()
}

func (db *DB) GetOperator(username string) (*Operator, error) {
	o := &Operator{}
	var createdAt string
	var lastLogin sql.NullString
	err := db.QueryRow(`SELECT id, username, password_hash, created_at, last_login_at FROM operators WHERE username = ?`,
		strings.TrimSpace(username)).Scan(&o.ID, &o.Username, &o.PasswordHash, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, username)
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.LastLoginAt = parseNullTime(lastLogin)
	return o, nil
}

func (db *DB) SetOperatorPassword(username, passwordHash string) error {
	return db.updateOperator(username, `UPDATE operators SET password_hash = ? WHERE username = ?`, passwordHash)
}

// RecordLogin stamps the operator's last successful login.
func (db *DB) RecordLogin(username string) error {
	return db.updateOperator(username, `UPDATE operators SET last_login_at = datetime('now','localtime') WHERE username = ?`)
}

// updateOperator runs query with username bound to its last placeholder.
func (db *DB) updateOperator(username, query string, args ...interface{}) error {
	args = append(args, strings.TrimSpace(username))
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOperator, username)
	}
	return nil
}
