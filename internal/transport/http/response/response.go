package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeInvalidTenantKey   = 40001
	CodeMessageEmpty       = 40002
	CodeFileQuota          = 40003
	CodeStorageQuota       = 40004
	CodeEmptyContent       = 40005
	CodeUnauthorized       = 40100
	CodeForbidden          = 40300
	CodeChatNotFound       = 40401
	CodeDocumentNotFound   = 40402
	CodeTenantNotFound     = 40403
	CodeUploadTooLarge     = 41300
	CodeUnsupportedFormat  = 41500
	CodeExtractionFailed   = 42200
	CodeClientGone         = 49900
	CodeInternalServer     = 50000
	CodeIndexingFailed     = 50200
	CodeBackendUnavailable = 50300
	CodeStreamInterrupted  = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

// Error writes a failure envelope with the message in the client's language.
func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: Localize(c, code, message),
	})
}
