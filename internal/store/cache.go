package store

import (
	"database/sql"
	"errors"
	"time"
)

// GetCache returns the cached bytes for key, or nil when absent or expired.
func (db *DB) GetCache(key string) ([]byte, error) {
	type cacheRow struct {
		ExpiresAt sql.NullTime `db:"expires_at"`
		Data      []byte       `db:"data"`
	}

	var row cacheRow
	err := db.Get(&row, "SELECT data, expires_at FROM cache WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if row.ExpiresAt.Valid && time.Now().After(row.ExpiresAt.Time) {
		_, _ = db.Exec("DELETE FROM cache WHERE key = ?", key)
		return nil, nil
	}

	return row.Data, nil
}

// SetCache stores data under key. A ttl of zero never expires.
func (db *DB) SetCache(key string, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := db.Exec(`
		INSERT INTO cache (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, key, data, expiresAt)
	return err
}

// PurgeExpiredCache deletes every expired entry and reports how many went.
// Expiry is compared in Go, the same way GetCache does it.
func (db *DB) PurgeExpiredCache() (int, error) {
	type cacheRow struct {
		ExpiresAt sql.NullTime `db:"expires_at"`
		Key       string       `db:"key"`
	}

	var rows []cacheRow
	if err := db.Select(&rows, "SELECT key, expires_at FROM cache WHERE expires_at IS NOT NULL"); err != nil {
		return 0, err
	}

	now := time.Now()
	n := 0
	for _, row := range rows {
		if !row.ExpiresAt.Valid || now.Before(row.ExpiresAt.Time) {
			continue
		}
		if _, err := db.Exec("DELETE FROM cache WHERE key = ?", row.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
