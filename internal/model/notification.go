package model

import "time"

// Notification kinds
const (
	NotifKindNoteProcessed = "note_processed"
	NotifKindTaskUpdated   = "task_updated"
	NotifKindBackground    = "background"
)

type Notification struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	NoteID    *string   `json:"note_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
