// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"io"

	"github.com/labstack/echo/v4"

	"github.com/filedrop/backend/internal/models"
)

// StagingHandler handles widget and selection operations
type StagingHandler interface {
	HandleCreateWidget(c echo.Context) error
	HandleGetSelection(c echo.Context) error
	HandleGetSelectionMsgpack(c echo.Context) error
	HandleDeleteWidget(c echo.Context) error
	HandleAddFiles(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
}

// PreviewHandler serves preview URLs minted for staged files
type PreviewHandler interface {
	HandlePreview(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// WidgetCounter reports how many widgets are open.
// This allows mocking in tests
type WidgetCounter interface {
	Count() int
}

// BlobReader is the part of the blob store previews are served from
type BlobReader interface {
	Get(id string) (*models.BlobInfo, error)
	Open(id string) (io.ReadCloser, error)
}

// PreviewResolver maps a preview token to its blob
type PreviewResolver interface {
	Resolve(token string) (string, bool)
}
