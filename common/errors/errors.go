package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Machine-readable error codes returned in the "error" field.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeProcessor    = "processor_error"
	CodeInternal     = "internal_error"
	CodeRateLimited  = "rate_limited"
	CodeForbidden    = "forbidden"
	CodeUnauthorized = "unauthorized"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error represents an application error that maps onto an HTTP response.
type Error struct {
	Status  int          `json:"-"`
	Code    string       `json:"error"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	Err     error        `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(status int, code, message string, err error) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func Validation(message string, details ...FieldError) *Error {
	e := New(http.StatusBadRequest, CodeValidation, message, nil)
	e.Details = details
	return e
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message, nil)
}

// Processor reports a failure of the external payment processor.
func Processor(message string, err error) *Error {
	return New(http.StatusBadGateway, CodeProcessor, message, err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Respond writes err as a JSON response. Errors that are not *Error become
// 500 internal_error without exposing their text.
func Respond(c *gin.Context, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}
	c.AbortWithStatusJSON(appErr.Status, appErr)
}

// ErrorMiddleware renders the last error attached with c.Error and logs
// server-side failures with their wrapped cause.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := As(err)
		if !ok {
			appErr = Internal(err)
		}
		if appErr.Status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("code", appErr.Code),
				zap.Error(err),
			)
		}
		c.JSON(appErr.Status, appErr)
	}
}
