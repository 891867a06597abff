package model

import (
	"encoding/json"
	"time"
)

// Note status values as reported by the processing pipeline.
const (
	NoteStatusRecorded   = "recorded"
	NoteStatusUploaded   = "uploaded"
	NoteStatusProcessing = "processing"
	NoteStatusProcessed  = "processed"
	NoteStatusFailed     = "failed"
)

type Note struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Summary          string          `json:"summary"`
	Transcript       string          `json:"transcript"`
	Status           string          `json:"status"`
	Timestamp        time.Time       `json:"timestamp"`
	AudioURL         *string         `json:"audio_url,omitempty"`
	LocalAudioPath   *string         `json:"local_audio_path,omitempty"`
	Synced           bool            `json:"synced"`
	Deleted          bool            `json:"deleted"`
	SemanticAnalysis json.RawMessage `json:"semantic_analysis,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	RelatedEntities  json.RawMessage `json:"related_entities,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Enrichment holds the server-produced analysis attached to a note.
type Enrichment struct {
	Title            string          `json:"title"`
	Summary          string          `json:"summary"`
	Transcript       string          `json:"transcript"`
	Status           string          `json:"status"`
	SemanticAnalysis json.RawMessage `json:"semantic_analysis,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	RelatedEntities  json.RawMessage `json:"related_entities,omitempty"`
}

// ValidNoteStatus reports whether s is a known note status.
func ValidNoteStatus(s string) bool {
	switch s {
	case NoteStatusRecorded, NoteStatusUploaded, NoteStatusProcessing, NoteStatusProcessed, NoteStatusFailed:
		return true
	}
	return false
}
