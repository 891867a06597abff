package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Setting keys
const (
	KeyUserID        = "user_id"
	KeyAuthToken     = "auth_token"
	KeyDeviceID      = "device_id"
	KeyPushToken     = "push_token"
	KeyLastSyncAt    = "last_sync_at"
	KeyLastRefreshAt = "last_refresh_at"

	KeyBackupEnabled       = "backup_enabled"
	KeyBackupScheduleHour  = "backup_schedule_hour"
	KeyBackupRetentionDays = "backup_retention_days"
	KeyBackupSalt          = "backup_passphrase_salt"
	KeyBackupLastAt        = "backup_last_at"
)

var accountKeys = []string{
	KeyUserID,
	KeyAuthToken,
	KeyDeviceID,
	KeyPushToken,
}

var backupKeys = []string{
	KeyBackupEnabled,
	KeyBackupScheduleHour,
	KeyBackupRetentionDays,
	KeyBackupSalt,
	KeyBackupLastAt,
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key, or "" if it has never been set.
func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) GetAll() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("get all settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) getGroup(keys []string) (map[string]string, error) {
	settings := make(map[string]string)
	for _, key := range keys {
		var value string
		err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get setting %q: %w", key, err)
		}
		settings[key] = value
	}
	return settings, nil
}

// GetAccount returns the registration state of this device.
func (s *SettingsStore) GetAccount() (map[string]string, error) {
	return s.getGroup(accountKeys)
}

func (s *SettingsStore) GetBackupSettings() (map[string]string, error) {
	return s.getGroup(backupKeys)
}

// Touch records the current time under key in RFC 3339 form.
func (s *SettingsStore) Touch(key string) error {
	return s.Set(key, time.Now().UTC().Format(time.RFC3339))
}

// GetTime parses a timestamp written by Touch. The zero time is returned
// when the key is unset.
func (s *SettingsStore) GetTime(key string) (time.Time, error) {
	v, err := s.Get(key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse setting %q: %w", key, err)
	}
	return t, nil
}
