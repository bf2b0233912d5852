// Package upload turns raw files posted by the drop surface into file
// descriptors backed by stored blobs.
package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/filedrop/backend/internal/logging"
	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/storage"
)

// Form field names used by the drop surface.
const (
	FieldFiles = "files"
	FieldPaths = "paths"
)

// MaxDecompressedSize caps a single gzip payload. Nothing larger could ever
// be staged.
const MaxDecompressedSize = staging.MaxUploadSize

// Payload encodings.
const (
	EncodingNone = ""
	EncodingGzip = "gzip"
)

var (
	// ErrInvalidPayload marks problems with what the client sent, as opposed
	// to storage failures.
	ErrInvalidPayload = errors.New("invalid file payload")

	// ErrEmptyName is returned for a file without a name.
	ErrEmptyName = fmt.Errorf("%w: file name is required", ErrInvalidPayload)
)

// FilePayload is one file sent inline, e.g. over the WebSocket channel.
type FilePayload struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Data     string `json:"data"`               // Base64 encoded content
	Encoding string `json:"encoding,omitempty"` // "gzip" or empty
}

// Intake stores dropped files and describes them for the staging store.
type Intake struct {
	store  storage.Store
	logger *log.Logger
}

// NewIntake creates an intake writing blobs to store.
func NewIntake(store storage.Store) *Intake {
	return &Intake{
		store:  store,
		logger: logging.New("intake"),
	}
}

// FromMultipart stores every file under the "files" field. An optional
// "paths" value at the same index carries the file's path as seen by the
// browser; it falls back to the file name.
func (i *Intake) FromMultipart(form *multipart.Form) ([]models.FileDescriptor, error) {
	if form == nil {
		return []models.FileDescriptor{}, nil
	}
	headers := form.File[FieldFiles]
	paths := form.Value[FieldPaths]

	batch := make([]models.FileDescriptor, 0, len(headers))
	for idx, fh := range headers {
		var p string
		if idx < len(paths) {
			p = paths[idx]
		}

		desc, err := i.saveMultipartFile(fh, p)
		if err != nil {
			i.Discard(batch)
			return nil, err
		}
		batch = append(batch, desc)
	}

	i.logger.Debugf("stored %d dropped files", len(batch))
	return batch, nil
}

func (i *Intake) saveMultipartFile(fh *multipart.FileHeader, p string) (models.FileDescriptor, error) {
	name := baseName(fh.Filename)
	if name == "" {
		return models.FileDescriptor{}, ErrEmptyName
	}

	src, err := fh.Open()
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("opening %s: %w", name, err)
	}
	defer src.Close()

	contentType := detectType(fh.Header.Get("Content-Type"), name)
	info, err := i.store.Save(name, contentType, src)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("storing %s: %w", name, err)
	}

	return describe(info, p), nil
}

// FromPayloads stores inline files, decoding base64 and optional gzip.
func (i *Intake) FromPayloads(payloads []FilePayload) ([]models.FileDescriptor, error) {
	batch := make([]models.FileDescriptor, 0, len(payloads))
	for _, pl := range payloads {
		desc, err := i.savePayload(pl)
		if err != nil {
			i.Discard(batch)
			return nil, err
		}
		batch = append(batch, desc)
	}
	return batch, nil
}

func (i *Intake) savePayload(pl FilePayload) (models.FileDescriptor, error) {
	name := baseName(pl.Name)
	if name == "" {
		return models.FileDescriptor{}, ErrEmptyName
	}

	data, err := base64.StdEncoding.DecodeString(pl.Data)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("%w: decoding %s: %v", ErrInvalidPayload, name, err)
	}

	switch pl.Encoding {
	case EncodingNone:
	case EncodingGzip:
		data, err = gunzip(data, MaxDecompressedSize)
		if err != nil {
			return models.FileDescriptor{}, fmt.Errorf("%w: decompressing %s: %v", ErrInvalidPayload, name, err)
		}
	default:
		return models.FileDescriptor{}, fmt.Errorf("%w: unsupported encoding %q for %s", ErrInvalidPayload, pl.Encoding, name)
	}

	info, err := i.store.SaveBytes(name, detectType(pl.Type, name), data)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("storing %s: %w", name, err)
	}
	return describe(info, pl.Path), nil
}

// Discard deletes the blobs behind a batch that never reached a store.
func (i *Intake) Discard(batch []models.FileDescriptor) {
	for _, d := range batch {
		if d.BlobID == "" {
			continue
		}
		if err := i.store.Delete(d.BlobID); err != nil {
			i.logger.Warnf("failed to discard blob %s: %v", d.BlobID, err)
		}
	}
}

func describe(info *models.BlobInfo, p string) models.FileDescriptor {
	if p == "" {
		p = info.Name
	}
	return models.FileDescriptor{
		Path:   p,
		Name:   info.Name,
		Size:   info.Size,
		Type:   info.Type,
		BlobID: info.ID,
	}
}

// gunzip decompresses a gzip stream, checking the magic bytes first. Output
// beyond limit bytes is an error.
func gunzip(data []byte, limit int64) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return nil, fmt.Errorf("not a gzip stream")
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(reader, limit+1)); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if int64(out.Len()) > limit {
		return nil, fmt.Errorf("decompressed size exceeds %d bytes", limit)
	}
	return out.Bytes(), nil
}

// detectType keeps a declared MIME type and otherwise guesses from the
// extension. Content is never sniffed.
func detectType(declared, name string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return declared
}

// baseName strips any directory part a client put into a file name.
func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
