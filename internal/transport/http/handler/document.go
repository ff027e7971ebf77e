package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/model"
	"ragdesk/internal/transport/http/middleware"
	"ragdesk/internal/transport/http/response"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

type DocumentService interface {
	Upload(ctx context.Context, in app.UploadInput) (*app.UploadResult, error)
	ListDocuments(ctx context.Context, tenantKey string) ([]model.Document, error)
	DeleteDocument(ctx context.Context, tenantKey, documentID string) (int, error)
	DeleteAllDocuments(ctx context.Context, tenantKey string) (int, error)
	ExtractText(data []byte, filename string) (string, error)
}

type DocumentHandler struct {
	documents      DocumentService
	maxUploadBytes int64
}

func NewDocumentHandler(documents DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxUploadBytes: maxUploadBytes}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	name, data, err := h.readFile(c)
	if err != nil {
		fail(c, err, "read upload failed")
		return
	}
	result, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		TenantKey: middleware.TenantKeyFrom(c),
		Filename:  name,
		Data:      data,
	})
	if err != nil {
		fail(c, err, "upload failed")
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.ListDocuments(c.Request.Context(), middleware.TenantKeyFrom(c))
	if err != nil {
		fail(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	deleted, err := h.documents.DeleteDocument(c.Request.Context(), middleware.TenantKeyFrom(c), id)
	if err != nil {
		fail(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"document_id": id, "deleted_points": deleted})
}

func (h *DocumentHandler) DeleteAll(c *gin.Context) {
	deleted, err := h.documents.DeleteAllDocuments(c.Request.Context(), middleware.TenantKeyFrom(c))
	if err != nil {
		fail(c, err, "delete documents failed")
		return
	}
	response.OK(c, gin.H{"deleted_points": deleted})
}

// Extract returns the text of an uploaded file without storing anything.
func (h *DocumentHandler) Extract(c *gin.Context) {
	name, data, err := h.readFile(c)
	if err != nil {
		fail(c, err, "read upload failed")
		return
	}
	text, err := h.documents.ExtractText(data, name)
	if err != nil {
		fail(c, err, "extract failed")
		return
	}
	response.OK(c, gin.H{"name": name, "text": text})
}

func (h *DocumentHandler) readFile(c *gin.Context) (string, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, app.ErrUploadTooLarge
		}
		return "", nil, app.ErrInvalidInput
	}
	if header.Size > h.maxUploadBytes {
		return "", nil, app.ErrUploadTooLarge
	}
	data, err := readPart(header)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
