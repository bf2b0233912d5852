// handlers_staging.go - Widget and selection handlers
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/filedrop/backend/internal/logging"
	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/preview"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/upload"
)

// WidgetResponse is returned when a widget is opened
type WidgetResponse struct {
	ID        string           `json:"id"`
	Selection models.Selection `json:"selection"`
}

// AddFilesRequest is the JSON form of a dropped batch
type AddFilesRequest struct {
	Files []upload.FilePayload `json:"files"`
}

// StagingHandlerImpl implements the StagingHandler interface
type StagingHandlerImpl struct {
	widgets         *staging.Manager
	intake          *upload.Intake
	previews        *preview.Registry
	multipartMemory int64
	logger          *log.Logger
}

// NewStagingHandler creates a new staging handler
func NewStagingHandler(widgets *staging.Manager, intake *upload.Intake, previews *preview.Registry, multipartMemory int64) *StagingHandlerImpl {
	if multipartMemory <= 0 {
		multipartMemory = 32 << 20
	}
	return &StagingHandlerImpl{
		widgets:         widgets,
		intake:          intake,
		previews:        previews,
		multipartMemory: multipartMemory,
		logger:          logging.New("api"),
	}
}

// HandleCreateWidget opens a widget with an empty selection
func (h *StagingHandlerImpl) HandleCreateWidget(c echo.Context) error {
	id, store := h.widgets.Create()
	return c.JSON(http.StatusCreated, WidgetResponse{
		ID:        id,
		Selection: store.Snapshot(),
	})
}

// HandleGetSelection returns the current selection as JSON
func (h *StagingHandlerImpl) HandleGetSelection(c echo.Context) error {
	store, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, store.Snapshot())
}

// HandleGetSelectionMsgpack returns the current selection as msgpack
func (h *StagingHandlerImpl) HandleGetSelectionMsgpack(c echo.Context) error {
	store, err := h.lookup(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(store.Snapshot())
	if err != nil {
		return NewInternalError("failed to encode selection", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleDeleteWidget tears a widget down and releases its previews
func (h *StagingHandlerImpl) HandleDeleteWidget(c echo.Context) error {
	id := c.Param("id")
	if !h.widgets.Delete(id) {
		return NewNotFoundError("widget", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleAddFiles stages a dropped batch. A batch over the size ceiling is
// not an HTTP error: the selection comes back unchanged with its error set.
func (h *StagingHandlerImpl) HandleAddFiles(c echo.Context) error {
	store, err := h.lookup(c)
	if err != nil {
		return err
	}

	batch, err := h.readBatch(c)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, h.stage(c.Param("id"), store, batch))
}

// HandleRemoveFile removes every staged file with the given name
func (h *StagingHandlerImpl) HandleRemoveFile(c echo.Context) error {
	store, err := h.lookup(c)
	if err != nil {
		return err
	}

	name := c.QueryParam("name")
	if name == "" {
		return NewValidationError("name")
	}

	return c.JSON(http.StatusOK, store.RemoveFile(name))
}

// stage hands a stored batch to a widget's store and reclaims blobs the
// store did not keep.
func (h *StagingHandlerImpl) stage(id string, store *staging.Store, batch []models.FileDescriptor) models.Selection {
	sel := store.AddFiles(batch)
	if h.previews != nil {
		if n := h.previews.Reclaim(batch); n > 0 {
			h.logger.Debugf("reclaimed %d unreferenced blobs for widget %s", n, id)
		}
	}
	if sel.HasError() {
		h.logger.Infof("widget %s rejected %d files: %s", id, len(batch), sel.Error)
	}
	return sel
}

func (h *StagingHandlerImpl) lookup(c echo.Context) (*staging.Store, error) {
	id := c.Param("id")
	store, ok := h.widgets.Get(id)
	if !ok {
		return nil, NewNotFoundError("widget", id)
	}
	return store, nil
}

// readBatch stores the files in the request body, either a multipart form
// or a JSON AddFilesRequest.
func (h *StagingHandlerImpl) readBatch(c echo.Context) ([]models.FileDescriptor, error) {
	req := c.Request()
	contentType := req.Header.Get(echo.HeaderContentType)

	switch {
	case strings.HasPrefix(contentType, echo.MIMEMultipartForm):
		if err := req.ParseMultipartForm(h.multipartMemory); err != nil {
			return nil, NewBadRequestError("invalid multipart body", err)
		}
		form := req.MultipartForm
		defer form.RemoveAll()

		batch, err := h.intake.FromMultipart(form)
		if err != nil {
			return nil, intakeError(err)
		}
		return batch, nil

	case strings.HasPrefix(contentType, echo.MIMEApplicationJSON):
		var body AddFilesRequest
		if err := c.Bind(&body); err != nil {
			return nil, NewBadRequestError("invalid JSON body", err)
		}

		batch, err := h.intake.FromPayloads(body.Files)
		if err != nil {
			return nil, intakeError(err)
		}
		return batch, nil

	default:
		return nil, NewUnsupportedMediaTypeError(contentType)
	}
}

func intakeError(err error) *APIError {
	if errors.Is(err, upload.ErrInvalidPayload) {
		return NewBadRequestError("invalid file in batch", err)
	}
	return NewInternalError("failed to store files", err)
}
