package response

import (
	"errors"
	"net/http"

	"github.com/enerdesk/calls-api/internal/types"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeDeadlineExpired   = "DEADLINE_EXPIRED"
	ErrCodeDuplicateProposal = "DUPLICATE_PROPOSAL"
	ErrCodeUnknownProposal   = "UNKNOWN_PROPOSAL"
	ErrCodeInvalidAmount     = "INVALID_AMOUNT"
)

// Handle maps a domain error to the appropriate response. Validation failures
// come back with the status the taxonomy assigns them; anything unrecognized,
// storage failures included, is an internal error.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, types.ErrDuplicateProposal):
		fail(c, http.StatusConflict, ErrCodeDuplicateProposal, err.Error())
	case errors.Is(err, types.ErrDeadlineExpired):
		fail(c, http.StatusUnprocessableEntity, ErrCodeDeadlineExpired, err.Error())
	case errors.Is(err, types.ErrUnknownProposal):
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnknownProposal, err.Error())
	case errors.Is(err, types.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAmount, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
