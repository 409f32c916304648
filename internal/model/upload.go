package model

import (
	"strings"
	"time"
)

// FilesURLPrefix is where stored files are served.
const FilesURLPrefix = "/files/"

// Upload is the index record of a stored file.
type Upload struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// URL returns the path a client fetches the file from.
func (u *Upload) URL() string {
	return FileURL(u.Filename)
}

// FileURL returns the fetch path of a file relative to the upload root.
func FileURL(rel string) string {
	return FilesURLPrefix + strings.TrimPrefix(rel, "/")
}

// FileEntry is one file of a directory listing. Digest is only known for
// files that went through the upload endpoint.
type FileEntry struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Digest   string `json:"digest,omitempty"`
}
