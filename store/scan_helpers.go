package store

import (
	"database/sql"
	"time"
)

// timeLayout matches SQLite's datetime('now','localtime').
const timeLayout = "2006-01-02 15:04:05"

// cutoff renders now-age in column form for age comparisons.
func cutoff(age time.Duration) string {
	return time.Now().Add(-age).In(time.Local).Format(timeLayout)
}

// parseTime reads a timestamp column; unparsable text gives the zero time.
func parseTime(s string) time.Time {
	t, _ := time.ParseInLocation(timeLayout, s, time.Local)
	return t
}

// parseNullTime reads a nullable timestamp column such as resolved_at.
func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	if t := parseTime(ns.String); !t.IsZero() {
		return &t
	}
	return nil
}
