package model

import "time"

type Document struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	TenantKey      string    `gorm:"size:128;not null;uniqueIndex:idx_tenant_document,priority:1" json:"-"`
	DocumentID     string    `gorm:"size:64;not null;uniqueIndex:idx_tenant_document,priority:2" json:"document_id"`
	Name           string    `gorm:"size:256;not null" json:"name"`
	SizeBytes      int64     `gorm:"not null" json:"size_bytes"`
	ChunkCount     int       `gorm:"not null" json:"chunk_count"`
	ProducedChunks int       `gorm:"not null" json:"produced_chunks"`
	UploadedAt     time.Time `json:"uploaded_at"`
}
