package repository

import (
	"context"

	"gorm.io/gorm"

	"ragdesk/internal/model"
)

// Store hands out repositories bound to one handle, either the pool or a
// transaction opened by WithTx.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Tenants() *TenantRepository {
	return &TenantRepository{db: s.db}
}

func (s *Store) Documents() *DocumentRepository {
	return &DocumentRepository{db: s.db}
}

func (s *Store) Chats() *ChatRepository {
	return &ChatRepository{db: s.db}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{db: s.db}
}

// WithTx runs fn in one transaction. fn's error (or a panic) rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Tenant{},
		&model.Document{},
		&model.Chat{},
		&model.Message{},
	)
}

// Ping checks the underlying connection pool.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
