package model

import "time"

type Tenant struct {
	Key                string    `gorm:"column:tenant_key;primaryKey;size:128" json:"-"`
	StorageBytes       int64     `gorm:"not null;default:0" json:"storage_bytes"`
	FileCount          int       `gorm:"not null;default:0" json:"file_count"`
	ChatCount          int       `gorm:"not null;default:0" json:"chat_count"`
	TotalFilesUploaded int       `gorm:"not null;default:0" json:"total_files_uploaded"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `gorm:"index" json:"last_active_at"`
}
