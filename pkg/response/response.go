package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Response represents a standardized API error response
type Response struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error,omitempty"`
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
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	// domain errors win over any gorm cause they wrap
	if _, ok := apperror.As(err); ok {
		handleError(c, err)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends the payload as-is with a 200 status
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends the payload as-is with a 201 status
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Fail sends an error envelope with an explicit status and code
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// StatusFor maps an error to the HTTP status it is reported with
func StatusFor(err error) int {
	appErr, ok := apperror.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	// Price lookup failures happen on the trade path, behind a healthy API
	if appErr.Code == apperror.ErrPriceUnavailable.Code {
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case apperror.KindValidation, apperror.KindBusinessRule:
		return http.StatusBadRequest
	case apperror.KindAuth:
		return http.StatusUnauthorized
	case apperror.KindInvalidToken:
		return http.StatusUnprocessableEntity
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		InternalError(c, "An unexpected error occurred")
		return
	}

	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("code", appErr.Code).Msg("request failed")
	}
	Fail(c, status, appErr.Code, appErr.Message)
}
