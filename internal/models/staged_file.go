package models

// FileDescriptor is a raw file as produced by the drop surface, before it
// has been merged into a selection.
type FileDescriptor struct {
	Path   string `json:"path" msgpack:"path"`
	Name   string `json:"name" msgpack:"name"`
	Size   int64  `json:"size" msgpack:"size"`
	Type   string `json:"type" msgpack:"type"`
	BlobID string `json:"blobId,omitempty" msgpack:"blobId,omitempty"` // raw handle a preview is created from
}

// StagedFile is a file accepted into the current selection.
type StagedFile struct {
	Path    string `json:"path" msgpack:"path"`
	Name    string `json:"name" msgpack:"name"`
	Size    int64  `json:"size" msgpack:"size"`
	Type    string `json:"type" msgpack:"type"`
	Label   string `json:"label" msgpack:"label"` // short name for file lists, see ShortName
	Preview string `json:"preview,omitempty" msgpack:"preview,omitempty"`
}

// labelWidth is how many trailing characters of a name a list label keeps.
const labelWidth = 22

// ShortName returns the short display name used by file lists: names longer than
// 22 characters keep their tail and get a "..." prefix.
func (f StagedFile) ShortName() string {
	r := []rune(f.Name)
	if len(r) <= labelWidth {
		return f.Name
	}
	return "..." + string(r[len(r)-labelWidth:])
}
