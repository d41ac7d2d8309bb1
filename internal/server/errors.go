package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/spendledger/internal/errs"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindUnknownEntity:
		return http.StatusNotFound
	case errs.KindConcurrencyConflict, errs.KindConsistencyViolation:
		return http.StatusConflict
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindPartialBatchFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    string(errs.KindInternal),
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    string(errs.KindInvalidInput),
			Code:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	kind := errs.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		return status, errorPayload{
			Type:    string(errs.KindInternal),
			Message: "internal server error",
		}
	}
	return status, errorPayload{
		Type:    string(kind),
		Code:    errs.CodeOf(err),
		Message: err.Error(),
	}
}

// writePartial answers 207 with the result body when err is a partial
// batch failure, and reports whether it did.
func writePartial(c *gin.Context, data any, err error) bool {
	if err == nil || errs.KindOf(err) != errs.KindPartialBatchFailure {
		return false
	}
	_, payload := mapError(err)
	c.JSON(http.StatusMultiStatus, gin.H{"data": data, "error": payload})
	return true
}

func classifyErrorForLog(err error) (string, string) {
	if vErr := asValidationErrors(err); vErr != nil {
		return string(errs.KindInvalidInput), "validation_error"
	}
	return string(errs.KindOf(err)), errs.CodeOf(err)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
