package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                  = 0
	CodeBadRequest          = 40000
	CodeUnsupportedFormat   = 40001
	CodeCredentialRequired  = 40002
	CodeQuestionEmpty       = 40003
	CodeNotReady            = 40004
	CodeFileTooLarge        = 40005
	CodeDocumentReplaced    = 40900
	CodeDecodeFailure       = 42201
	CodeInsufficientContent = 42202
	CodeInternalServer      = 50000
	CodeExtractionTimeout   = 50001
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

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
