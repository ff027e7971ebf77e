package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/transport/http/response"
)

// errorStatus maps service errors to an HTTP status and response code.
// Unknown errors are internal.
func errorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, app.ErrInvalidTenantKey):
		return http.StatusUnauthorized, response.CodeInvalidTenantKey
	case errors.Is(err, app.ErrMessageEmpty):
		return http.StatusBadRequest, response.CodeMessageEmpty
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, response.CodeBadRequest
	case errors.Is(err, app.ErrFileQuotaExceeded):
		return http.StatusForbidden, response.CodeFileQuota
	case errors.Is(err, app.ErrStorageQuotaExceeded):
		return http.StatusForbidden, response.CodeStorageQuota
	case errors.Is(err, app.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, response.CodeUploadTooLarge
	case errors.Is(err, app.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, response.CodeUnsupportedFormat
	case errors.Is(err, app.ErrEmptyContent):
		return http.StatusUnprocessableEntity, response.CodeEmptyContent
	case errors.Is(err, app.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, response.CodeExtractionFailed
	case errors.Is(err, app.ErrChatNotFound):
		return http.StatusNotFound, response.CodeChatNotFound
	case errors.Is(err, app.ErrDocumentNotFound):
		return http.StatusNotFound, response.CodeDocumentNotFound
	case errors.Is(err, app.ErrTenantNotFound):
		return http.StatusNotFound, response.CodeTenantNotFound
	case errors.Is(err, app.ErrIndexingFailed):
		return http.StatusBadGateway, response.CodeIndexingFailed
	case errors.Is(err, app.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, response.CodeBackendUnavailable
	case errors.Is(err, app.ErrStreamInterrupted):
		return http.StatusGatewayTimeout, response.CodeStreamInterrupted
	case errors.Is(err, app.ErrClientGone):
		return 499, response.CodeClientGone
	default:
		return http.StatusInternalServerError, response.CodeInternalServer
	}
}

// fail writes the mapped error. Internal errors are recorded on the context
// and answered with fallback instead of their text.
func fail(c *gin.Context, err error, fallback string) {
	status, code := errorStatus(err)
	message := err.Error()
	if code == response.CodeInternalServer {
		_ = c.Error(err)
		message = fallback
	}
	response.Error(c, status, code, message)
}

func badRequest(c *gin.Context, message string) {
	response.Error(c, http.StatusBadRequest, response.CodeBadRequest, message)
}
