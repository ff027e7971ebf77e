package model

import "time"

const DefaultChatTitle = "New chat"

// TitleJob asks the title worker to name a chat from its first message.
type TitleJob struct {
	TenantKey    string `json:"tenant_key"`
	ChatID       string `json:"chat_id"`
	FirstMessage string `json:"first_message"`
}

type Chat struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	TenantKey     string    `gorm:"size:128;not null;uniqueIndex:idx_tenant_chat,priority:1" json:"-"`
	ChatID        string    `gorm:"size:64;not null;uniqueIndex:idx_tenant_chat,priority:2" json:"chat_id"`
	Title         string    `gorm:"size:256;not null" json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}
