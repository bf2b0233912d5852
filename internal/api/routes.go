// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/filedrop/backend/internal/preview"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/storage"
	"github.com/filedrop/backend/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store           storage.Store
	Widgets         *staging.Manager
	Previews        *preview.Registry
	Intake          *upload.Intake
	MultipartMemory int64
	MaxMessageSize  int64
	Version         string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Staging   StagingHandler
	Preview   PreviewHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	stagingHandler := NewStagingHandler(deps.Widgets, deps.Intake, deps.Previews, deps.MultipartMemory)
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Widgets),
		Staging:   stagingHandler,
		Preview:   NewPreviewHandler(deps.Previews, deps.Store),
		WebSocket: NewWebSocketHandler(stagingHandler, deps.MaxMessageSize),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Widget and selection routes
	widgetGroup := e.Group("/api/widgets")
	widgetGroup.POST("", handlers.Staging.HandleCreateWidget)
	widgetGroup.GET("/:id", handlers.Staging.HandleGetSelection)
	widgetGroup.GET("/:id/msgpack", handlers.Staging.HandleGetSelectionMsgpack)
	widgetGroup.DELETE("/:id", handlers.Staging.HandleDeleteWidget)
	widgetGroup.POST("/:id/files", handlers.Staging.HandleAddFiles)
	widgetGroup.DELETE("/:id/files", handlers.Staging.HandleRemoveFile)

	// Preview URLs
	e.GET("/api/previews/:token", handlers.Preview.HandlePreview)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/widgets/:id/ws", handlers.WebSocket.HandleWebSocket)
}

// MiddlewareOptions selects the optional middleware
type MiddlewareOptions struct {
	RequestLogging bool
	EnableCORS     bool
	AllowOrigins   string
	BodyLimit      string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if opts.RequestLogging {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				// Preview fetches and socket upgrades are noisy
				path := c.Request().URL.Path
				return strings.HasPrefix(path, "/api/previews/") || strings.HasSuffix(path, "/ws")
			},
		}))
	}
	e.Use(middleware.Recover())

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := []string{"*"}
		if opts.AllowOrigins != "" && opts.AllowOrigins != "*" {
			origins = strings.Split(opts.AllowOrigins, ",")
			for i := range origins {
				origins[i] = strings.TrimSpace(origins[i])
			}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{echo.GET, echo.POST, echo.DELETE, echo.OPTIONS},
		}))
	}
}
