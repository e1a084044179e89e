package types

import "encoding/json"

// FileMetadata describes one file of a batch sent between peers
type FileMetadata struct {
	Index    int    `json:"index"`    // Position in the sender's accepted file list
	Name     string `json:"name"`     // Submitted filename, after rename
	Size     int64  `json:"size"`     // File size in bytes
	MimeType string `json:"mimeType"` // MIME type of the file
}

// BatchManifest announces a batch before its file data is streamed
type BatchManifest struct {
	Seq        int               `json:"seq"`
	ParamName  string            `json:"paramName"`
	Fields     map[string]string `json:"fields,omitempty"`
	Files      []FileMetadata    `json:"files"`
	TotalBytes int64             `json:"totalBytes"`
}

// BatchResult is the receiver's answer for a batch
type BatchResult struct {
	Seq    int             `json:"seq"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// StoredFile describes a file persisted by a receiver, as reported back to
// the sender in a result body
type StoredFile struct {
	Field       string `json:"field"`
	Name        string `json:"name"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// UploadResult is the JSON body answered for a stored batch
type UploadResult struct {
	Files  []StoredFile      `json:"files"`
	Fields map[string]string `json:"fields,omitempty"`
}
