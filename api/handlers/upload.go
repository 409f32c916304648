package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ptybridge/internal/metrics"
	"github.com/remote-agent-terminal/ptybridge/internal/model"
	"github.com/remote-agent-terminal/ptybridge/internal/storage"
)

// multipartOverhead allows for the form framing around the file part.
const multipartOverhead = 1 << 20

// UploadHandler handles file exchange with the terminal sandbox.
type UploadHandler struct {
	store *storage.FileStore
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(store *storage.FileStore) *UploadHandler {
	return &UploadHandler{
		store: store,
	}
}

// UploadResponse is returned for a stored file.
type UploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Digest   string `json:"digest"`
}

// Upload handles POST /upload - stores the multipart field "file".
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.store.MaxBytes()+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordUpload("too_large")
			sendError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit")
			return
		}
		metrics.RecordUpload("invalid")
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "No file uploaded")
		return
	}

	f, err := header.Open()
	if err != nil {
		metrics.RecordUpload("error")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read upload: "+err.Error())
		return
	}
	defer f.Close()

	upload, err := h.store.Store(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrFileTooLarge):
			metrics.RecordUpload("too_large")
			sendError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
		case errors.Is(err, model.ErrInvalidFilename):
			metrics.RecordUpload("invalid")
			sendError(c, http.StatusBadRequest, "INVALID_FILENAME", err.Error())
		default:
			metrics.RecordUpload("error")
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store upload: "+err.Error())
		}
		return
	}

	metrics.RecordUpload("ok")
	c.JSON(http.StatusOK, UploadResponse{
		Filename: upload.Filename,
		Path:     upload.URL(),
		Size:     upload.Size,
		Digest:   upload.Digest,
	})
}

// List handles GET /uploads - lists the files in the sandbox.
func (h *UploadHandler) List(c *gin.Context) {
	files, err := h.store.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list files: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
	})
}

// Serve handles GET /files/*path - streams a file from the sandbox.
func (h *UploadHandler) Serve(c *gin.Context) {
	f, info, err := h.store.Open(c.Param("path"))
	if err != nil {
		h.sendStoreError(c, err)
		return
	}
	defer f.Close()

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// Delete handles DELETE /files/*path - removes a file from the sandbox.
func (h *UploadHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("path")); err != nil {
		h.sendStoreError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *UploadHandler) sendStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrUploadNotFound):
		sendError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
	case errors.Is(err, model.ErrPathOutsideRoot):
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Path is outside the upload directory")
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// RegisterRoutes registers the file routes on a Gin router.
func (h *UploadHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/upload", h.Upload)
	r.GET("/uploads", h.List)
	r.GET("/files/*path", h.Serve)
	r.DELETE("/files/*path", h.Delete)
}
