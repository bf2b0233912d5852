// handlers_preview.go - Preview URL handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/filedrop/backend/internal/storage"
)

// PreviewHandlerImpl implements the PreviewHandler interface
type PreviewHandlerImpl struct {
	previews PreviewResolver
	blobs    BlobReader
}

// NewPreviewHandler creates a new preview handler
func NewPreviewHandler(previews PreviewResolver, blobs BlobReader) PreviewHandler {
	return &PreviewHandlerImpl{
		previews: previews,
		blobs:    blobs,
	}
}

// HandlePreview streams the blob behind a live preview token. Revoked
// tokens are gone for good, like a revoked object URL.
func (h *PreviewHandlerImpl) HandlePreview(c echo.Context) error {
	token := c.Param("token")
	blobID, ok := h.previews.Resolve(token)
	if !ok {
		return NewNotFoundError("preview", token)
	}

	info, err := h.blobs.Get(blobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("preview", token)
		}
		return NewInternalError("failed to read preview", err)
	}

	r, err := h.blobs.Open(blobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("preview", token)
		}
		return NewInternalError("failed to open preview", err)
	}
	defer r.Close()

	contentType := info.Type
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	res.Header().Set("Cache-Control", "no-store")
	return c.Stream(http.StatusOK, contentType, r)
}
