package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/transport/http/response"
)

type AdminService interface {
	Stats(ctx context.Context) (*app.Stats, error)
	PurgeInactive(ctx context.Context, idle time.Duration) (app.PurgeReport, error)
	SweepLeakedPoints(ctx context.Context) (int, error)
}

type AdminHandler struct {
	tenants     AdminService
	defaultIdle time.Duration
}

type PurgeRequest struct {
	// InactiveAfter is a Go duration such as "168h".
	InactiveAfter string `json:"inactive_after"`
}

func NewAdminHandler(tenants AdminService, defaultIdle time.Duration) *AdminHandler {
	return &AdminHandler{tenants: tenants, defaultIdle: defaultIdle}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.tenants.Stats(c.Request.Context())
	if err != nil {
		fail(c, err, "load stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	removed, err := h.tenants.SweepLeakedPoints(c.Request.Context())
	if err != nil {
		fail(c, err, "sweep failed")
		return
	}
	response.OK(c, gin.H{"removed_points": removed})
}

func (h *AdminHandler) Purge(c *gin.Context) {
	var req PurgeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request payload")
			return
		}
	}
	idle := h.defaultIdle
	if req.InactiveAfter != "" {
		d, err := time.ParseDuration(req.InactiveAfter)
		if err != nil || d <= 0 {
			badRequest(c, "invalid inactive_after")
			return
		}
		idle = d
	}
	report, err := h.tenants.PurgeInactive(c.Request.Context(), idle)
	if err != nil {
		fail(c, err, "purge failed")
		return
	}
	response.OK(c, report)
}
