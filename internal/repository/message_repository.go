package repository

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"ragdesk/internal/model"
)

const maxHistoryLimit = 200

type MessageRepository struct {
	db *gorm.DB
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListRecent returns the newest limit messages of a chat in insertion order.
func (r *MessageRepository) ListRecent(ctx context.Context, key, chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("tenant_key = ? AND chat_id = ?", key, chatID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (r *MessageRepository) CountByChat(ctx context.Context, key, chatID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("tenant_key = ? AND chat_id = ?", key, chatID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return n, nil
}

func (r *MessageRepository) DeleteByChat(ctx context.Context, key, chatID string) error {
	if err := r.db.WithContext(ctx).Where("tenant_key = ? AND chat_id = ?", key, chatID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete chat messages failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) DeleteByTenant(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete tenant messages failed: %w", err)
	}
	return nil
}
