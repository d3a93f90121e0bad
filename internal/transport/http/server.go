package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SEK-11/OCR/internal/bootstrap"
	"github.com/SEK-11/OCR/internal/metrics"
	"github.com/SEK-11/OCR/internal/transport/http/handler"
	"github.com/SEK-11/OCR/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	cfg := app.Config
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	// Multipart parts above this spill to disk instead of memory.
	router.MaxMultipartMemory = 8 << 20

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, metrics.Handler())
	}

	documentHandler := handler.NewDocumentHandler(app.Documents, app.Catalog, cfg.MaxUploadBytes(), cfg.Upload.TempDir)

	v1 := router.Group("/api/v1")
	v1.GET("/templates", documentHandler.GetTemplates)

	sessionGroup := v1.Group("")
	sessionGroup.Use(middleware.Session(middleware.SessionOptions{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.Session.Secret,
		TTL:        time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		Secure:     cfg.Session.SecureCookie,
	}))
	sessionGroup.POST("/upload", documentHandler.Upload)
	sessionGroup.POST("/ask", documentHandler.Ask)
	sessionGroup.GET("/history", documentHandler.GetHistory)
	sessionGroup.DELETE("/history", documentHandler.ClearHistory)
	sessionGroup.GET("/session", documentHandler.GetSession)
	sessionGroup.DELETE("/session", documentHandler.EndSession)

	return router
}
