package models

// Selection is the read-only view of a staging store handed to renderers.
// Version grows with every change, so a consumer fed from several goroutines
// keeps the snapshot with the highest Version.
type Selection struct {
	Version   uint64       `json:"version" msgpack:"version"`
	Files     []StagedFile `json:"files" msgpack:"files"`
	TotalSize int64        `json:"totalSize" msgpack:"totalSize"`
	Limit     int64        `json:"limit" msgpack:"limit"`
	Error     string       `json:"error,omitempty" msgpack:"error,omitempty"`
}

// HasError reports whether the selection carries a validation error.
func (s Selection) HasError() bool {
	return s.Error != ""
}

// Names returns the display names of the staged files in order.
func (s Selection) Names() []string {
	names := make([]string, len(s.Files))
	for i, f := range s.Files {
		names[i] = f.Name
	}
	return names
}

// NewerThan reports whether s reflects a later state than other.
func (s Selection) NewerThan(other Selection) bool {
	return s.Version > other.Version
}
