package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedrop/backend/internal/testutil"
)

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func buildForm(t *testing.T, files []formFile, paths []string) *multipart.Form {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for _, p := range paths {
		require.NoError(t, w.WriteField(FieldPaths, p))
	}
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form
}

func TestIntake_FromMultipart(t *testing.T) {
	store := testutil.NewMockStorage()
	intake := NewIntake(store)

	form := buildForm(t, []formFile{
		{name: "a.png", contentType: "image/png", data: []byte("png-bytes")},
		{name: "notes.txt", data: []byte("hello")},
	}, []string{"/photos/a.png"})

	batch, err := intake.FromMultipart(form)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, "/photos/a.png", batch[0].Path)
	assert.Equal(t, "a.png", batch[0].Name)
	assert.Equal(t, int64(9), batch[0].Size)
	assert.Equal(t, "image/png", batch[0].Type)
	assert.True(t, store.Has(batch[0].BlobID))

	assert.Equal(t, "notes.txt", batch[1].Path, "path falls back to the name")
	assert.Contains(t, batch[1].Type, "text/plain")
	assert.Equal(t, int64(5), batch[1].Size)
}

func TestIntake_FromMultipartNilForm(t *testing.T) {
	batch, err := NewIntake(testutil.NewMockStorage()).FromMultipart(nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestIntake_FromMultipartDiscardsOnFailure(t *testing.T) {
	store := testutil.NewMockStorage()
	store.FailSaveAfter = 1
	intake := NewIntake(store)

	form := buildForm(t, []formFile{
		{name: "a.txt", data: []byte("a")},
		{name: "b.txt", data: []byte("b")},
	}, nil)

	_, err := intake.FromMultipart(form)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidPayload))
	assert.Equal(t, 0, store.Len(), "blobs saved before the failure should be deleted")
}

func TestIntake_FromPayloads(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte("compressed content"))
	zw.Close()

	// Highly compressible zeros just over the cap.
	var bomb bytes.Buffer
	bw := gzip.NewWriter(&bomb)
	bw.Write(make([]byte, MaxDecompressedSize+1))
	bw.Close()

	tests := []struct {
		name     string
		payload  FilePayload
		wantErr  bool
		invalid  bool
		wantSize int64
		wantPath string
	}{
		{
			name:     "plain base64",
			payload:  FilePayload{Path: "/docs/a.txt", Name: "a.txt", Data: base64.StdEncoding.EncodeToString([]byte("hello"))},
			wantSize: 5,
			wantPath: "/docs/a.txt",
		},
		{
			name:     "gzip encoded",
			payload:  FilePayload{Name: "b.txt", Data: base64.StdEncoding.EncodeToString(gz.Bytes()), Encoding: EncodingGzip},
			wantSize: int64(len("compressed content")),
			wantPath: "b.txt",
		},
		{
			name:    "gzip flag on plain data",
			payload: FilePayload{Name: "c.txt", Data: base64.StdEncoding.EncodeToString([]byte("plain")), Encoding: EncodingGzip},
			wantErr: true,
			invalid: true,
		},
		{
			name:    "gzip expands past the size cap",
			payload: FilePayload{Name: "zeros.bin", Data: base64.StdEncoding.EncodeToString(bomb.Bytes()), Encoding: EncodingGzip},
			wantErr: true,
			invalid: true,
		},
		{
			name:    "invalid base64",
			payload: FilePayload{Name: "d.txt", Data: "not-valid-base64!!!"},
			wantErr: true,
			invalid: true,
		},
		{
			name:    "unknown encoding",
			payload: FilePayload{Name: "e.txt", Data: "", Encoding: "br"},
			wantErr: true,
			invalid: true,
		},
		{
			name:    "missing name",
			payload: FilePayload{Data: ""},
			wantErr: true,
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			batch, err := NewIntake(store).FromPayloads([]FilePayload{tt.payload})

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidPayload))
				assert.Equal(t, 0, store.Len())
				return
			}
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.wantSize, batch[0].Size)
			assert.Equal(t, tt.wantPath, batch[0].Path)
		})
	}
}

func TestIntake_Discard(t *testing.T) {
	store := testutil.NewMockStorage()
	intake := NewIntake(store)

	batch, err := intake.FromPayloads([]FilePayload{
		{Name: "a.txt", Data: base64.StdEncoding.EncodeToString([]byte("a"))},
		{Name: "b.txt", Data: base64.StdEncoding.EncodeToString([]byte("b"))},
	})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	intake.Discard(batch)
	assert.Equal(t, 0, store.Len())
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a.txt", baseName("a.txt"))
	assert.Equal(t, "a.txt", baseName("dir/sub/a.txt"))
	assert.Equal(t, "a.txt", baseName(`C:\Users\me\a.txt`))
	assert.Equal(t, "", baseName(""))
}

func TestGunzip_Limit(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(make([]byte, 100))
	zw.Close()

	out, err := gunzip(buf.Bytes(), 100)
	require.NoError(t, err)
	assert.Len(t, out, 100)

	_, err = gunzip(buf.Bytes(), 99)
	assert.Error(t, err)
}
