package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ragdesk/internal/model"
)

type ChatRepository struct {
	db *gorm.DB
}

func (r *ChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

// Get looks the chat up by tenant and chat id together, never by id alone.
func (r *ChatRepository) Get(ctx context.Context, key, chatID string) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.WithContext(ctx).Where("tenant_key = ? AND chat_id = ?", key, chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

func (r *ChatRepository) ListByTenant(ctx context.Context, key string) ([]model.Chat, error) {
	var chats []model.Chat
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).Order("last_message_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) Touch(ctx context.Context, key, chatID string, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.Chat{}).
		Where("tenant_key = ? AND chat_id = ?", key, chatID).
		Update("last_message_at", now).Error
	if err != nil {
		return fmt.Errorf("touch chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) Rename(ctx context.Context, key, chatID, title string) error {
	err := r.db.WithContext(ctx).Model(&model.Chat{}).
		Where("tenant_key = ? AND chat_id = ?", key, chatID).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("rename chat failed: %w", err)
	}
	return nil
}

// RenameIfTitle renames the chat only while its title is still from, and
// reports whether a row changed.
func (r *ChatRepository) RenameIfTitle(ctx context.Context, key, chatID, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Chat{}).
		Where("tenant_key = ? AND chat_id = ? AND title = ?", key, chatID, from).
		Update("title", to)
	if res.Error != nil {
		return false, fmt.Errorf("rename chat failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ChatRepository) Delete(ctx context.Context, key, chatID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("tenant_key = ? AND chat_id = ?", key, chatID).Delete(&model.Chat{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChatRepository) DeleteByTenant(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).Delete(&model.Chat{}).Error; err != nil {
		return fmt.Errorf("delete tenant chats failed: %w", err)
	}
	return nil
}
