package app

import (
	"ragdesk/internal/config"
	"ragdesk/internal/pkg/tenantkey"
)

// Limits are the per-tenant ceilings and input floors.
type Limits struct {
	TenantKeyMinLength int
	MaxFiles           int
	MaxStorageBytes    int64
	MaxUploadBytes     int64
	MinExtractedText   int
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		TenantKeyMinLength: cfg.Auth.TenantKeyMinLength,
		MaxFiles:           cfg.Quota.MaxFiles,
		MaxStorageBytes:    cfg.Quota.MaxStorageBytes,
		MaxUploadBytes:     cfg.Quota.MaxUploadBytes,
		MinExtractedText:   cfg.RAG.MinExtractedText,
	}
}

// tenant normalizes and checks a raw key.
func (l Limits) tenant(raw string) (string, error) {
	key := tenantkey.Normalize(raw)
	if err := tenantkey.Validate(key, l.TenantKeyMinLength); err != nil {
		return "", ErrInvalidTenantKey
	}
	return key, nil
}
