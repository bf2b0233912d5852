package preview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedrop/backend/internal/models"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/testutil"
)

func TestRegistry_AllocateAndRelease(t *testing.T) {
	blobs := testutil.NewMockStorage()
	blobs.AddBlob("blob-a", "a.png", "image/png", []byte("png"))
	r := NewRegistry(blobs, "")

	h := r.Allocate(models.FileDescriptor{Path: "/a.png", Name: "a.png", BlobID: "blob-a"})
	require.NotNil(t, h)
	assert.True(t, strings.HasPrefix(h.URL(), DefaultBasePath))

	token := strings.TrimPrefix(h.URL(), DefaultBasePath)
	blobID, ok := r.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, "blob-a", blobID)
	assert.Equal(t, 1, r.Len())

	h.Release()
	h.Release()

	_, ok = r.Resolve(token)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.False(t, blobs.Has("blob-a"), "last release should delete the blob")
}

func TestRegistry_SharedBlobSurvivesUntilLastRelease(t *testing.T) {
	blobs := testutil.NewMockStorage()
	blobs.AddBlob("blob-a", "a.txt", "text/plain", []byte("a"))
	r := NewRegistry(blobs, "/previews")

	desc := models.FileDescriptor{Path: "/a.txt", Name: "a.txt", BlobID: "blob-a"}
	first := r.Allocate(desc)
	second := r.Allocate(desc)
	assert.NotEqual(t, first.URL(), second.URL())
	assert.True(t, strings.HasPrefix(first.URL(), "/previews/"))
	assert.Equal(t, 2, r.Refs("blob-a"))

	first.Release()
	assert.True(t, blobs.Has("blob-a"))

	second.Release()
	assert.False(t, blobs.Has("blob-a"))
	assert.Equal(t, 0, r.Refs("blob-a"))
}

func TestRegistry_NoBlobNoPreview(t *testing.T) {
	r := NewRegistry(nil, "")
	assert.Nil(t, r.Allocate(models.FileDescriptor{Path: "/a", Name: "a"}))
}

func TestRegistry_WithStagingStore(t *testing.T) {
	blobs := testutil.NewMockStorage()
	blobs.AddBlob("small", "small.txt", "text/plain", []byte("s"))
	blobs.AddBlob("huge", "huge.bin", "", []byte("h"))
	r := NewRegistry(blobs, "")
	s := staging.NewStore(r)

	s.AddFiles([]models.FileDescriptor{{Path: "/small", Name: "small.txt", Size: 1, BlobID: "small"}})
	sel := s.AddFiles([]models.FileDescriptor{{Path: "/huge", Name: "huge.bin", Size: staging.MaxUploadSize, BlobID: "huge"}})

	assert.True(t, sel.HasError())
	assert.Equal(t, 1, r.Len())
	assert.True(t, blobs.Has("small"))
	assert.False(t, blobs.Has("huge"), "rejected batch blob should be reclaimed")

	s.RemoveFile("small.txt")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, blobs.Len())
}

func TestRegistry_Reclaim(t *testing.T) {
	blobs := testutil.NewMockStorage()
	blobs.AddBlob("kept", "a.txt", "", []byte("a"))
	blobs.AddBlob("dup", "a.txt", "", []byte("a"))
	r := NewRegistry(blobs, "")
	s := staging.NewStore(r)

	batch := []models.FileDescriptor{
		{Path: "/a.txt", Name: "a.txt", Size: 1, BlobID: "dup"},
		{Path: "/a.txt", Name: "a.txt", Size: 1, BlobID: "kept"},
	}
	s.AddFiles(batch)

	assert.Equal(t, 1, r.Reclaim(batch))
	assert.True(t, blobs.Has("kept"))
	assert.False(t, blobs.Has("dup"))
	assert.Equal(t, 0, r.Reclaim(batch))
}
