package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/model"
	"ragdesk/internal/transport/http/middleware"
	"ragdesk/internal/transport/http/response"
)

type TenantService interface {
	Login(ctx context.Context, rawKey string) (*model.Tenant, error)
	DeleteTenant(ctx context.Context, tenantKey string) (int, error)
}

type AuthHandler struct {
	tenants TenantService
}

type LoginRequest struct {
	TenantKey string `json:"tenant_key" binding:"max=128"`
}

type LoginResponse struct {
	TenantKey    string    `json:"tenant_key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func NewAuthHandler(tenants TenantService) *AuthHandler {
	return &AuthHandler{tenants: tenants}
}

// Login accepts an optional key; an empty body starts a new tenant.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request payload")
			return
		}
	}
	if req.TenantKey == "" {
		req.TenantKey = c.GetHeader(middleware.HeaderTenantKey)
	}

	tenant, err := h.tenants.Login(c.Request.Context(), req.TenantKey)
	if err != nil {
		fail(c, err, "login failed")
		return
	}
	response.OK(c, LoginResponse{
		TenantKey:    tenant.Key,
		CreatedAt:    tenant.CreatedAt,
		LastActiveAt: tenant.LastActiveAt,
	})
}

// DeleteTenant removes the calling tenant and everything it owns.
func (h *AuthHandler) DeleteTenant(c *gin.Context) {
	points, err := h.tenants.DeleteTenant(c.Request.Context(), middleware.TenantKeyFrom(c))
	if err != nil {
		fail(c, err, "delete tenant failed")
		return
	}
	response.OK(c, gin.H{"deleted_points": points})
}

var _ TenantService = (*app.TenantService)(nil)
