package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUploadNotFound is returned when a stored file is not found.
	ErrUploadNotFound = errors.New("file not found")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrInvalidFilename is returned for names that cannot be stored.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrPathOutsideRoot is returned when a path escapes the upload root.
	ErrPathOutsideRoot = errors.New("path outside upload root")
)
