package models

import "time"

// BlobInfo represents metadata about the stored bytes of a dropped file.
type BlobInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Type       string    `json:"type,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}
