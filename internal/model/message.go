package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message rows are append-only.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantKey string    `gorm:"size:128;not null;index:idx_message_chat,priority:1" json:"-"`
	ChatID    string    `gorm:"size:64;not null;index:idx_message_chat,priority:2" json:"chat_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
