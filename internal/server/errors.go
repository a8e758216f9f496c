package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServiceError carries a stable operation.reason code for HTTP clients.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opCompile       = "server.compile"
	opListChanges   = "server.list_changes"
	opStreamChanges = "server.stream_changes"
)

const (
	reasonInvalidRequest = "invalid_request"
	reasonInvalidOptions = "invalid_options"
	reasonInvalidAfter   = "invalid_after"
	reasonInvalidLimit   = "invalid_limit"
	reasonQueryFailed    = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// respondError writes {"error": reason, "code": operation.reason}.
func respondError(c *gin.Context, logger *zap.Logger, status int, err error) {
	code := "internal"
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorReason(err), "code": code})
}

func errorReason(err error) string {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return "internal_error"
	}
	code := serviceErr.Code()
	for index := len(code) - 1; index >= 0; index-- {
		if code[index] == '.' {
			return code[index+1:]
		}
	}
	return code
}
