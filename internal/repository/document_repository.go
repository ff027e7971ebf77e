package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ragdesk/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByTenant(ctx context.Context, key string) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).Order("uploaded_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) Get(ctx context.Context, key, documentID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("tenant_key = ? AND document_id = ?", key, documentID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, key, documentID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("tenant_key = ? AND document_id = ?", key, documentID).Delete(&model.Document{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete document failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *DocumentRepository) DeleteByTenant(ctx context.Context, key string) (int64, error) {
	res := r.db.WithContext(ctx).Where("tenant_key = ?", key).Delete(&model.Document{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete tenant documents failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Usage sums what the ledger should hold for the tenant.
func (r *DocumentRepository) Usage(ctx context.Context, key string) (count int64, bytes int64, err error) {
	var row struct {
		Count int64
		Bytes int64
	}
	err = r.db.WithContext(ctx).Model(&model.Document{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS bytes").
		Where("tenant_key = ?", key).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("sum document usage failed: %w", err)
	}
	return row.Count, row.Bytes, nil
}
