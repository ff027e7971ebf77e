package app

import (
	"context"
	"fmt"
	"time"

	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
	"ragdesk/internal/repository"
)

type TenantService struct {
	store        *repository.Store
	index        VectorIndex
	historyCache HistoryCache
	limits       Limits
	log          logging.Logger
	now          func() time.Time
}

func NewTenantService(store *repository.Store, index VectorIndex, historyCache HistoryCache, limits Limits, log logging.Logger) *TenantService {
	return &TenantService{
		store:        store,
		index:        index,
		historyCache: historyCache,
		limits:       limits,
		log:          log.With("component", "tenant"),
		now:          time.Now,
	}
}

// Login creates the tenant or refreshes its activity. An empty key gets a
// freshly generated one.
func (s *TenantService) Login(ctx context.Context, rawKey string) (*model.Tenant, error) {
	raw := tenantkey.Normalize(rawKey)
	if raw == "" {
		raw = tenantkey.Generate()
	}
	key, err := s.limits.tenant(raw)
	if err != nil {
		return nil, err
	}
	if err := s.store.Tenants().Touch(ctx, key, s.now()); err != nil {
		return nil, err
	}
	tenant, err := s.store.Tenants().Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, ErrTenantNotFound
	}
	return tenant, nil
}

type TenantStat struct {
	ShortKey           string    `json:"short_key"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
	ChatCount          int       `json:"chat_count"`
	TotalFilesUploaded int       `json:"total_files_uploaded"`
	FileCount          int       `json:"file_count"`
	StorageBytes       int64     `json:"storage_bytes"`
}

type StatsTotals struct {
	Chats         int   `json:"chats"`
	FilesUploaded int   `json:"files_uploaded"`
	Files         int   `json:"files"`
	StorageBytes  int64 `json:"storage_bytes"`
}

type Stats struct {
	Tenants      []TenantStat `json:"tenants"`
	Totals       StatsTotals  `json:"totals"`
	TotalTenants int          `json:"total_tenants"`
}

func (s *TenantService) Stats(ctx context.Context) (*Stats, error) {
	tenants, err := s.store.Tenants().List(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Tenants: make([]TenantStat, 0, len(tenants)), TotalTenants: len(tenants)}
	for _, t := range tenants {
		out.Tenants = append(out.Tenants, TenantStat{
			ShortKey:           tenantkey.Short(t.Key),
			CreatedAt:          t.CreatedAt,
			LastActiveAt:       t.LastActiveAt,
			ChatCount:          t.ChatCount,
			TotalFilesUploaded: t.TotalFilesUploaded,
			FileCount:          t.FileCount,
			StorageBytes:       t.StorageBytes,
		})
		out.Totals.Chats += t.ChatCount
		out.Totals.FilesUploaded += t.TotalFilesUploaded
		out.Totals.Files += t.FileCount
		out.Totals.StorageBytes += t.StorageBytes
	}
	return out, nil
}

// DeleteTenant removes every point, row and cache entry of the tenant and
// returns how many points were removed.
func (s *TenantService) DeleteTenant(ctx context.Context, tenantKey string) (int, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return 0, err
	}
	tenant, err := s.store.Tenants().Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if tenant == nil {
		return 0, ErrTenantNotFound
	}
	return s.deleteTenant(ctx, key)
}

func (s *TenantService) deleteTenant(ctx context.Context, key string) (int, error) {
	// points go first: if this fails the rows stay and the next run retries
	points, err := s.index.DeleteAllForTenant(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("delete tenant points failed: %w", err)
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Messages().DeleteByTenant(ctx, key); err != nil {
			return err
		}
		if err := tx.Chats().DeleteByTenant(ctx, key); err != nil {
			return err
		}
		if _, err := tx.Documents().DeleteByTenant(ctx, key); err != nil {
			return err
		}
		return tx.Tenants().Delete(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	if s.historyCache != nil {
		if err := s.historyCache.DeleteTenant(ctx, key); err != nil {
			s.log.Warn(ctx, "history cache cleanup failed", "tenant", tenantkey.Fingerprint(key), "err", err)
		}
	}
	s.log.Info(ctx, "tenant deleted", "tenant", tenantkey.Fingerprint(key), "points", points)
	return points, nil
}

type PurgeReport struct {
	Tenants int `json:"tenants"`
	Points  int `json:"points"`
	Failed  int `json:"failed"`
}

// PurgeInactive deletes tenants idle for longer than idle. A tenant that
// fails is logged and left for the next run.
func (s *TenantService) PurgeInactive(ctx context.Context, idle time.Duration) (PurgeReport, error) {
	var report PurgeReport
	keys, err := s.store.Tenants().ListInactiveKeys(ctx, s.now().Add(-idle))
	if err != nil {
		return report, err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		points, err := s.deleteTenant(ctx, key)
		if err != nil {
			report.Failed++
			s.log.Error(ctx, "purge inactive tenant failed", "tenant", tenantkey.Fingerprint(key), "err", err)
			continue
		}
		report.Tenants++
		report.Points += points
	}
	if report.Tenants > 0 || report.Failed > 0 {
		s.log.Info(ctx, "inactive tenants purged", "tenants", report.Tenants, "points", report.Points, "failed", report.Failed)
	}
	return report, nil
}

func (s *TenantService) SweepLeakedPoints(ctx context.Context) (int, error) {
	return s.index.SweepLeakedPoints(ctx)
}
