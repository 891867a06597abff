package model

// DashboardStats summarises note processing on the remote side.
type DashboardStats struct {
	TotalNotes     int `json:"total_notes"`
	ProcessedNotes int `json:"processed_notes"`
	PendingTasks   int `json:"pending_tasks"`
	CompletedTasks int `json:"completed_tasks"`
}

type Dashboard struct {
	Notes []Note         `json:"notes"`
	Stats DashboardStats `json:"stats"`
}

// TaskCounts breaks the task center down by status.
type TaskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

type TaskCenter struct {
	Tasks  []Task     `json:"tasks"`
	Counts TaskCounts `json:"counts"`
}

// BatchUpload is the remote response to a multipart audio upload.
type BatchUpload struct {
	Status         string `json:"status"`
	BatchJobID     string `json:"batch_job_id"`
	ProcessedCount int    `json:"processed_count"`
}

// Registration is returned by the user registration endpoint.
type Registration struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}
