// Package types defines the domain types shared across the upload pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import "encoding/json"

// UploadField is a single non-file form field, in arrival order.
type UploadField struct {
	Name  string
	Value string
}

// MarshalJSON encodes the field as a [name, value] pair.
func (f UploadField) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{f.Name, f.Value})
}

// UploadFile is a single file part staged inside a workspace.
// The staged file on disk belongs to the workspace, not to this record.
type UploadFile struct {
	// FieldName is the form field the file was submitted under.
	FieldName string
	// StagedPath is the absolute path of the staged copy.
	StagedPath string
	// OriginalName is the client-supplied file name.
	OriginalName string
	// Size is the number of bytes written to StagedPath.
	Size int64
	// MimeType is the part's declared Content-Type.
	MimeType string
}

// fileJSON is the object half of the encoded [fieldName, file] pair.
type fileJSON struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// MarshalJSON encodes the file as a [fieldName, {name, path, size, type}] pair.
func (f UploadFile) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{f.FieldName, fileJSON{
		Name: f.OriginalName,
		Path: f.StagedPath,
		Size: f.Size,
		Type: f.MimeType,
	}})
}

// TotalSize sums the staged sizes of files.
func TotalSize(files []UploadFile) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}
