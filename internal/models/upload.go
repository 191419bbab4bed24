package models

import "time"

// UploadRecord keeps metadata about a file stored through the upload endpoint.
type UploadRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	ObjectKey string    `gorm:"size:512;not null" json:"object_key"`
	URL       string    `gorm:"size:512;not null" json:"url"`
	MimeType  string    `gorm:"size:100" json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `gorm:"size:64;index" json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}
