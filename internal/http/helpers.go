package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/logging"
)

// --- Response Types ---

// ErrorResponse is the standard error response format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`    // machine-readable error code
	Details any    `json:"details,omitempty"` // additional context (validation errors, etc.)
}

// SuccessResponse is a standard success response with optional data.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// --- Error Response Helpers ---

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: string(errs.CodeInvalidInput)})
}

// respondErr maps a coded error to its HTTP status. Errors without a code
// are logged and reported as internal errors without exposing the cause.
func respondErr(c *gin.Context, err error, context string) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logging.Get("http").Error().Err(err).Str("context", context).Msg("internal error")
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	if status >= 500 {
		logging.Get("http").Warn().Err(err).Str("context", context).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: string(code)})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeInvalidInput:
		return http.StatusBadRequest
	case errs.CodeInvalidTransition, errs.CodeSuperseded:
		return http.StatusConflict
	case errs.CodeStorageUnavailable, errs.CodeOffline:
		return http.StatusServiceUnavailable
	case errs.CodeFetchFailed, errs.CodeDispatchFailed:
		return http.StatusBadGateway
	case errs.CodePermanentActionFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- Success Response Helpers ---

func respondSuccess(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Message: message, Data: data})
}

// respondAccepted sends a 202 Accepted response (for async operations).
func respondAccepted(c *gin.Context, message string, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse{Message: message, Data: data})
}
