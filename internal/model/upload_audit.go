package model

import "time"

// UploadAudit records upload metadata only. Document text and chat history
// are never persisted.
type UploadAudit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:64;not null;index" json:"session_id"`
	Filename       string    `gorm:"size:255;not null" json:"filename"`
	FileType       string    `gorm:"size:16;not null;index" json:"file_type"`
	SizeBytes      int64     `gorm:"not null" json:"size_bytes"`
	Fingerprint    string    `gorm:"size:64;index" json:"fingerprint"`
	Strategy       string    `gorm:"size:16" json:"strategy"`
	PagesProcessed int       `json:"pages_processed"`
	TextLength     int       `json:"text_length"`
	Cached         bool      `json:"cached"`
	Status         string    `gorm:"size:32;not null;index" json:"status"`
	Error          string    `gorm:"size:512" json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
