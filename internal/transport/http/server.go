package http

import (
	"github.com/gin-gonic/gin"

	"ragdesk/internal/bootstrap"
	"ragdesk/internal/transport/http/handler"
	"ragdesk/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Log), gin.Recovery())
	router.MaxMultipartMemory = 32 << 20

	checks := make(map[string]handler.PingFunc)
	for name, check := range app.Checks() {
		checks[name] = check
	}
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks)
	router.GET("/healthz", healthHandler.Check)

	idle, _ := app.Config.InactiveAfter()
	authHandler := handler.NewAuthHandler(app.Tenants)
	documentHandler := handler.NewDocumentHandler(app.Ingest, app.Config.Quota.MaxUploadBytes)
	chatHandler := handler.NewChatHandler(app.Chats, app.Assistant, app.Titles)
	assistHandler := handler.NewAssistHandler(app.Assistant, app.Tools)
	adminHandler := handler.NewAdminHandler(app.Tenants, idle)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	tenant := v1.Group("")
	tenant.Use(middleware.TenantKey())
	tenant.DELETE("/tenant", authHandler.DeleteTenant)

	tenant.POST("/documents", documentHandler.Upload)
	tenant.GET("/documents", documentHandler.List)
	tenant.DELETE("/documents/:id", documentHandler.Delete)
	tenant.DELETE("/documents", documentHandler.DeleteAll)
	tenant.POST("/extract", documentHandler.Extract)

	tenant.GET("/chats", chatHandler.List)
	tenant.POST("/chats", chatHandler.Create)
	tenant.PATCH("/chats/:id", chatHandler.Rename)
	tenant.DELETE("/chats/:id", chatHandler.Delete)
	tenant.GET("/chats/:id/messages", chatHandler.History)
	tenant.POST("/chats/:id/messages", chatHandler.SendMessage)
	tenant.POST("/chats/:id/title", chatHandler.GenerateTitle)

	tenant.POST("/ask", assistHandler.Ask)
	tenant.POST("/tools/summarize", assistHandler.Summarize)
	tenant.POST("/tools/translate", assistHandler.Translate)

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthAdminJWT(app.Config.Auth.AdminJWTSecret))
	admin.GET("/stats", adminHandler.Stats)
	admin.POST("/sweep", adminHandler.Sweep)
	admin.POST("/purge", adminHandler.Purge)

	return router
}
