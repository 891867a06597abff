package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/google/uuid"
)

type NoteStore struct {
	db *sql.DB
}

func NewNoteStore(db *sql.DB) *NoteStore {
	return &NoteStore{db: db}
}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	var audioURL, localPath sql.NullString
	var semantic, metadata, related sql.NullString
	var synced, deleted int

	err := scanner.Scan(
		&n.ID, &n.Title, &n.Summary, &n.Transcript, &n.Status, &n.Timestamp,
		&audioURL, &localPath, &synced, &deleted,
		&semantic, &metadata, &related, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Synced = synced != 0
	n.Deleted = deleted != 0
	if audioURL.Valid {
		n.AudioURL = &audioURL.String
	}
	if localPath.Valid {
		n.LocalAudioPath = &localPath.String
	}
	n.SemanticAnalysis = rawJSON(semantic)
	n.Metadata = rawJSON(metadata)
	n.RelatedEntities = rawJSON(related)
	return &n, nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const noteCols = `id, title, summary, transcript, status, timestamp, audio_url, local_audio_path,
	synced, deleted, semantic_analysis, metadata, related_entities, created_at, updated_at`

// Create inserts a locally captured note. It starts unsynced so the
// reconciler picks up its audio on the next run.
func (s *NoteStore) Create(title string, timestamp time.Time, localAudioPath *string) (*model.Note, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO notes (id, title, status, timestamp, local_audio_path, synced, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, title, model.NoteStatusRecorded, timestamp.UTC(), nullString(localAudioPath), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return s.GetByID(id)
}

// Upsert mirrors a note received from the remote API. A row whose audio is
// still waiting on the reconciler is left alone so the upload is not lost.
// A local audio path already on the row is preserved.
func (s *NoteStore) Upsert(n model.Note) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = model.NoteStatusProcessed
	}
	now := time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO notes (id, title, summary, transcript, status, timestamp, audio_url, local_audio_path,
		   synced, deleted, semantic_analysis, metadata, related_entities, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   summary = excluded.summary,
		   transcript = excluded.transcript,
		   status = excluded.status,
		   timestamp = excluded.timestamp,
		   audio_url = excluded.audio_url,
		   local_audio_path = COALESCE(notes.local_audio_path, excluded.local_audio_path),
		   semantic_analysis = excluded.semantic_analysis,
		   metadata = excluded.metadata,
		   related_entities = excluded.related_entities,
		   updated_at = excluded.updated_at
		 WHERE notes.synced = 1`,
		n.ID, n.Title, n.Summary, n.Transcript, n.Status, n.Timestamp.UTC(),
		nullString(n.AudioURL), nullString(n.LocalAudioPath),
		nullJSON(n.SemanticAnalysis), nullJSON(n.Metadata), nullJSON(n.RelatedEntities),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert note %s: %w", n.ID, err)
	}
	return nil
}

// GetByID returns the note, soft-deleted or not. It returns nil if no row exists.
func (s *NoteStore) GetByID(id string) (*model.Note, error) {
	row := s.db.QueryRow(`SELECT `+noteCols+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// GetByLocalPath returns the note recorded from path, soft-deleted or not.
// It returns nil if no row references the file.
func (s *NoteStore) GetByLocalPath(path string) (*model.Note, error) {
	row := s.db.QueryRow(`SELECT `+noteCols+` FROM notes WHERE local_audio_path = ? LIMIT 1`, path)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note by path: %w", err)
	}
	return n, nil
}

// List returns all notes that are not soft-deleted, newest first.
func (s *NoteStore) List() ([]model.Note, error) {
	return s.query(`SELECT ` + noteCols + ` FROM notes WHERE deleted = 0 ORDER BY timestamp DESC, created_at DESC`)
}

// ListUnsynced returns notes whose local state has not reached the remote yet.
func (s *NoteStore) ListUnsynced() ([]model.Note, error) {
	return s.query(`SELECT ` + noteCols + ` FROM notes WHERE synced = 0 AND deleted = 0 ORDER BY timestamp ASC`)
}

func (s *NoteStore) query(q string, args ...any) ([]model.Note, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// MarkSynced flips the synced flag on every given note in one statement.
func (s *NoteStore) MarkSynced(ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.db.Exec(
		`UPDATE notes SET synced = 1, status = CASE WHEN status = 'recorded' THEN 'uploaded' ELSE status END,
		   updated_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notes synced: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// UpdateEnrichment stores server-produced analysis without touching sync state.
func (s *NoteStore) UpdateEnrichment(id string, e model.Enrichment) (*model.Note, error) {
	_, err := s.db.Exec(
		`UPDATE notes SET title = ?, summary = ?, transcript = ?, status = ?,
		   semantic_analysis = ?, metadata = ?, related_entities = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Summary, e.Transcript, e.Status,
		nullJSON(e.SemanticAnalysis), nullJSON(e.Metadata), nullJSON(e.RelatedEntities),
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update enrichment: %w", err)
	}
	return s.GetByID(id)
}

// SoftDelete hides the note from listings. The row stays retrievable by id.
func (s *NoteStore) SoftDelete(id string) error {
	_, err := s.db.Exec(`UPDATE notes SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// CountUnsynced returns the number of notes still waiting on the reconciler.
func (s *NoteStore) CountUnsynced() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM notes WHERE synced = 0 AND deleted = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsynced notes: %w", err)
	}
	return n, nil
}
