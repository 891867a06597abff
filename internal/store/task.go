package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/voxnote/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var noteID, assignees sql.NullString
	var deadline sql.NullTime
	var done, synced, deleted int

	err := scanner.Scan(
		&t.ID, &noteID, &t.Description, &t.Priority, &t.Status, &done,
		&deadline, &assignees, &synced, &deleted, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Done = done != 0
	t.Synced = synced != 0
	t.Deleted = deleted != 0
	if noteID.Valid {
		t.NoteID = &noteID.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.Time
	}
	if assignees.Valid && assignees.String != "" {
		if err := json.Unmarshal([]byte(assignees.String), &t.Assignees); err != nil {
			return nil, fmt.Errorf("decode assignees: %w", err)
		}
	}
	return &t, nil
}

const taskCols = `id, note_id, description, priority, status, done, deadline, assignees, synced, deleted, created_at, updated_at`

func encodeAssignees(a []string) (sql.NullString, error) {
	if len(a) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode assignees: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Upsert mirrors a task from the remote task center. A row with local
// changes still pending is left alone so the local edit is not lost.
func (s *TaskStore) Upsert(t model.Task) error {
	var dl sql.NullTime
	if t.Deadline != nil {
		dl = sql.NullTime{Time: t.Deadline.UTC(), Valid: true}
	}
	as, err := encodeAssignees(t.Assignees)
	if err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = model.TaskPriorityMedium
	}
	now := time.Now().UTC()

	_, err = s.db.Exec(
		`INSERT INTO tasks (id, note_id, description, priority, status, done, deadline, assignees, synced, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   note_id = excluded.note_id,
		   description = excluded.description,
		   priority = excluded.priority,
		   status = excluded.status,
		   done = excluded.done,
		   deadline = excluded.deadline,
		   assignees = excluded.assignees,
		   updated_at = excluded.updated_at
		 WHERE tasks.synced = 1`,
		t.ID, nullString(t.NoteID), t.Description, t.Priority, t.Status, boolInt(t.Done), dl, as, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns the task, soft-deleted or not. It returns nil if no row exists.
func (s *TaskStore) GetByID(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// List returns all tasks that are not soft-deleted. Open tasks come first,
// then by priority (high > medium > low) and deadline.
func (s *TaskStore) List() ([]model.Task, error) {
	return s.query(
		`SELECT ` + taskCols + ` FROM tasks WHERE deleted = 0
		 ORDER BY done ASC,
		   CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END,
		   deadline IS NULL, deadline ASC, created_at DESC`,
	)
}

// ListByNote returns the visible tasks extracted from a note.
func (s *TaskStore) ListByNote(noteID string) ([]model.Task, error) {
	return s.query(
		`SELECT `+taskCols+` FROM tasks WHERE note_id = ? AND deleted = 0 ORDER BY created_at ASC`,
		noteID,
	)
}

// ListUnsynced returns tasks with local status changes not yet pushed.
func (s *TaskStore) ListUnsynced() ([]model.Task, error) {
	return s.query(`SELECT ` + taskCols + ` FROM tasks WHERE synced = 0 AND deleted = 0 ORDER BY updated_at ASC`)
}

func (s *TaskStore) query(q string, args ...any) ([]model.Task, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SetStatus records a local status change and marks the task pending sync.
// The done flag follows the status.
func (s *TaskStore) SetStatus(id, status string) (*model.Task, error) {
	done := status == model.TaskStatusDone
	result, err := s.db.Exec(
		`UPDATE tasks SET status = ?, done = ?, synced = 0, updated_at = ? WHERE id = ?`,
		status, boolInt(done), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set task status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// MarkSynced records that the remote has accepted status for the task. The
// row is only flipped if its status still matches; a local edit made while
// the push was in flight stays pending for the next run.
func (s *TaskStore) MarkSynced(id, status string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET synced = 1 WHERE id = ? AND status = ? AND synced = 0`,
		id, status,
	)
	if err != nil {
		return false, fmt.Errorf("mark task synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SoftDelete hides the task from listings. The row stays retrievable by id.
func (s *TaskStore) SoftDelete(id string) error {
	_, err := s.db.Exec(`UPDATE tasks SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
