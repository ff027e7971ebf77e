package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragdesk/internal/model"
)

type TenantRepository struct {
	db *gorm.DB
}

// Touch creates the tenant row if missing, otherwise bumps last_active_at.
func (r *TenantRepository) Touch(ctx context.Context, key string, now time.Time) error {
	tenant := model.Tenant{Key: key, CreatedAt: now, LastActiveAt: now}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_key"}},
		DoUpdates: clause.Assignments(map[string]any{"last_active_at": now}),
	}).Create(&tenant).Error
	if err != nil {
		return fmt.Errorf("touch tenant failed: %w", err)
	}
	return nil
}

func (r *TenantRepository) Get(ctx context.Context, key string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant failed: %w", err)
	}
	return &tenant, nil
}

func (r *TenantRepository) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	if err := r.db.WithContext(ctx).Order("last_active_at DESC").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("list tenants failed: %w", err)
	}
	return tenants, nil
}

func (r *TenantRepository) ListInactiveKeys(ctx context.Context, cutoff time.Time) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("last_active_at < ?", cutoff).
		Pluck("tenant_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list inactive tenants failed: %w", err)
	}
	return keys, nil
}

// ReserveUpload charges one file of size bytes against the tenant's counters,
// but only while both ceilings still hold. It reports false when a ceiling
// would be crossed; nothing is changed in that case.
func (r *TenantRepository) ReserveUpload(ctx context.Context, key string, size int64, maxFiles int, maxStorage int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("tenant_key = ? AND file_count < ? AND storage_bytes + ? <= ?", key, maxFiles, size, maxStorage).
		Updates(map[string]any{
			"file_count":           gorm.Expr("file_count + 1"),
			"storage_bytes":        gorm.Expr("storage_bytes + ?", size),
			"total_files_uploaded": gorm.Expr("total_files_uploaded + 1"),
			"last_active_at":       time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reserve tenant quota failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseUpload reverses the file and storage part of ReserveUpload,
// clamping at zero.
func (r *TenantRepository) ReleaseUpload(ctx context.Context, key string, size int64) error {
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("tenant_key = ?", key).
		Updates(map[string]any{
			"file_count":    gorm.Expr("CASE WHEN file_count > 0 THEN file_count - 1 ELSE 0 END"),
			"storage_bytes": gorm.Expr("CASE WHEN storage_bytes >= ? THEN storage_bytes - ? ELSE 0 END", size, size),
		}).Error
	if err != nil {
		return fmt.Errorf("release tenant quota failed: %w", err)
	}
	return nil
}

func (r *TenantRepository) ResetUsage(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("tenant_key = ?", key).
		Updates(map[string]any{"file_count": 0, "storage_bytes": 0}).Error
	if err != nil {
		return fmt.Errorf("reset tenant usage failed: %w", err)
	}
	return nil
}

// AddChats adjusts the chat counter by delta, never below zero.
func (r *TenantRepository) AddChats(ctx context.Context, key string, delta int) error {
	expr := gorm.Expr("chat_count + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN chat_count >= ? THEN chat_count - ? ELSE 0 END", -delta, -delta)
	}
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("tenant_key = ?", key).
		Update("chat_count", expr).Error
	if err != nil {
		return fmt.Errorf("update tenant chat count failed: %w", err)
	}
	return nil
}

func (r *TenantRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("tenant_key = ?", key).Delete(&model.Tenant{}).Error; err != nil {
		return fmt.Errorf("delete tenant failed: %w", err)
	}
	return nil
}
