package store

import (
	"database/sql"
	"errors"
	"strconv"
	"time"
)

type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(key string) (string, error) {
	var value string
	err := r.db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SettingsRepo) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

func (r *SettingsRepo) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// GetBool reads a flag stored by SetBool. Missing keys read as false.
func (r *SettingsRepo) GetBool(key string) (bool, error) {
	v, err := r.Get(key)
	if err != nil || v == "" {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (r *SettingsRepo) SetBool(key string, value bool) error {
	return r.Set(key, strconv.FormatBool(value))
}

const (
	SettingDownloadsPaused = "downloads_paused"
	SettingLastScanAt      = "last_scan_at"
)
