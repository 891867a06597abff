// Package backup snapshots the local cache into encrypted objects on
// S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dukerupert/voxnote/internal/store"

	_ "modernc.org/sqlite"
)

var (
	ErrDisabled     = errors.New("backup not configured: S3 credentials missing")
	ErrNoPassphrase = errors.New("backup passphrase not set")
	ErrNotFound     = errors.New("backup not found")
)

const defaultRetention = 30

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3     S3Config
	DBPath string
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager creates, lists, restores and expires encrypted cache snapshots.
type Manager struct {
	mu       sync.RWMutex
	runMu    sync.Mutex
	cfg      Config
	status   Status
	callback StatusCallback

	db       *sql.DB
	backups  *store.BackupStore
	settings *store.SettingsStore
	client   s3Client
	logger   *slog.Logger

	// passphrase is held in memory only, for scheduled runs
	passphrase string
}

// NewManager creates a new backup manager.
func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, ss *store.SettingsStore, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		backups:  bs,
		settings: ss,
		callback: callback,
		logger:   logger.With("component", "backup"),
		status:   Status{State: StateDisabled},
	}
	if cfg.S3.configured() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether storage is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) fail(id int64, err error) error {
	if id != 0 {
		if uerr := m.backups.UpdateStatus(id, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("record backup failure", "backup_id", id, "error", uerr)
		}
	}
	m.setStatus(Status{State: StateError, Error: err.Error()})
	return err
}

// SetPassphrase remembers the passphrase for scheduled runs. The first call
// on a device generates and stores the key-derivation salt.
func (m *Manager) SetPassphrase(passphrase string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}
	if _, err := m.salt(true); err != nil {
		return err
	}
	m.mu.Lock()
	m.passphrase = passphrase
	m.mu.Unlock()
	return nil
}

// HasPassphrase reports whether scheduled runs can proceed.
func (m *Manager) HasPassphrase() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passphrase != ""
}

func (m *Manager) salt(create bool) ([]byte, error) {
	saltHex, err := m.settings.Get(store.KeyBackupSalt)
	if err != nil {
		return nil, fmt.Errorf("get backup salt: %w", err)
	}
	if saltHex != "" {
		salt, err := hex.DecodeString(saltHex)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}
	if !create {
		return nil, ErrNoPassphrase
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := m.settings.Set(store.KeyBackupSalt, hex.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// Scheduled is a periodic job: when backups are enabled, the configured
// hour has come, and no snapshot was taken in the last 20 hours, it runs a
// backup and expires old ones.
func (m *Manager) Scheduled(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	settings, err := m.settings.GetBackupSettings()
	if err != nil {
		return err
	}
	if settings[store.KeyBackupEnabled] != "true" {
		return nil
	}

	hour, _ := strconv.Atoi(settings[store.KeyBackupScheduleHour])
	now := time.Now().UTC()
	if now.Hour() != hour {
		return nil
	}
	last, err := m.settings.GetTime(store.KeyBackupLastAt)
	if err != nil {
		return err
	}
	if !last.IsZero() && now.Sub(last) < 20*time.Hour {
		return nil
	}

	m.mu.RLock()
	passphrase := m.passphrase
	m.mu.RUnlock()
	if passphrase == "" {
		m.logger.Warn("skipping scheduled backup, passphrase not set")
		return nil
	}

	if _, err := m.RunNow(ctx, passphrase); err != nil {
		return err
	}

	retention, _ := strconv.Atoi(settings[store.KeyBackupRetentionDays])
	if retention <= 0 {
		retention = defaultRetention
	}
	return m.Cleanup(ctx, retention)
}

// RunNow snapshots the cache immediately and returns the backup record.
// An empty passphrase falls back to the one remembered by SetPassphrase.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (*model.Backup, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	if passphrase == "" {
		m.mu.RLock()
		passphrase = m.passphrase
		m.mu.RUnlock()
	}
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	salt, err := m.salt(true)
	if err != nil {
		return nil, err
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.run(ctx, passphrase, salt)
}

func (m *Manager) objectKey(filename string) (string, error) {
	deviceID, err := m.settings.Get(store.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if deviceID == "" {
		deviceID = "unregistered"
	}
	return "voxnote/" + deviceID + "/" + filename, nil
}

func (m *Manager) run(ctx context.Context, passphrase string, salt []byte) (*model.Backup, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	m.setStatus(Status{State: StateRunning, InProgress: true})

	filename := fmt.Sprintf("cache-%s.db.enc", time.Now().UTC().Format("2006-01-02T150405Z"))
	key, err := m.objectKey(filename)
	if err != nil {
		return nil, m.fail(0, err)
	}

	record, err := m.backups.Create(filename, key)
	if err != nil {
		return nil, m.fail(0, fmt.Errorf("create backup record: %w", err))
	}
	if err := m.backups.UpdateStatus(record.ID, model.BackupStatusUploading, ""); err != nil {
		return nil, m.fail(record.ID, err)
	}

	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("voxnote-snapshot-%d.db", record.ID))
	os.Remove(snapshot)
	defer os.Remove(snapshot)

	// VACUUM INTO refuses to overwrite, hence the Remove above
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return nil, m.fail(record.ID, fmt.Errorf("snapshot database: %w", err))
	}

	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return nil, m.fail(record.ID, fmt.Errorf("read snapshot: %w", err))
	}
	sealed, err := Encrypt(plaintext, passphrase, salt)
	if err != nil {
		return nil, m.fail(record.ID, fmt.Errorf("encrypt: %w", err))
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return nil, m.fail(record.ID, fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.backups.UpdateCompleted(record.ID, int64(len(sealed))); err != nil {
		return nil, m.fail(record.ID, err)
	}
	if err := m.settings.Touch(store.KeyBackupLastAt); err != nil {
		m.logger.Warn("record backup time", "error", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup completed", "backup_id", record.ID, "bytes", len(sealed))

	return m.backups.GetByID(record.ID)
}

func (m *Manager) fetch(ctx context.Context, backupID int64) (*model.Backup, io.ReadCloser, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return nil, nil, ErrDisabled
	}

	record, err := m.backups.GetByID(backupID)
	if err != nil {
		return nil, nil, fmt.Errorf("get backup: %w", err)
	}
	if record == nil || record.Status != model.BackupStatusCompleted {
		return nil, nil, ErrNotFound
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("download from s3: %w", err)
	}
	return record, result.Body, nil
}

// Download streams an encrypted snapshot as stored.
func (m *Manager) Download(ctx context.Context, backupID int64) (io.ReadCloser, int64, error) {
	record, body, err := m.fetch(ctx, backupID)
	if err != nil {
		return nil, 0, err
	}
	return body, record.SizeBytes, nil
}

// Restore downloads and decrypts a snapshot, checks its integrity, and
// writes it to dst. The live database is never touched; swapping the file
// in is left to the caller while the process is stopped.
func (m *Manager) Restore(ctx context.Context, backupID int64, passphrase, dst string) error {
	_, body, err := m.fetch(ctx, backupID)
	if err != nil {
		return err
	}
	defer body.Close()

	sealed, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	plaintext, err := Decrypt(sealed, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	tmp := dst + ".partial"
	if err := os.WriteFile(tmp, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(tmp)

	if err := checkIntegrity(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("move restored db: %w", err)
	}
	m.logger.Info("backup restored", "backup_id", backupID, "path", dst)
	return nil
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Cleanup deletes snapshots older than the retention period.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()
	if client == nil {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -retentionDays)
	keys, err := m.backups.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete expired object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("expired backups removed", "count", len(keys))
	}
	return nil
}
