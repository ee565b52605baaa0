package response

import (
	"net/http"

	"taskoracle/pkg/errors"
	"taskoracle/pkg/utils/contextkey"
	"taskoracle/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every oracle endpoint returns.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: "Success",
		Data:    data,
		TraceID: traceID(c),
	})
}

// Error renders err with the HTTP status of its code. Server-side failures
// are logged with their stack; client errors only as warnings.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()
	ctx := c.Request.Context()

	fields := []zap.Field{
		zap.Int("code", int(e.Code)),
		zap.Int("status", status),
		zap.String("message", e.Error()),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if status >= http.StatusInternalServerError {
		if e.Err != nil {
			fields = append(fields, zap.NamedError("cause", e.Err))
		}
		logger.Error(ctx, "request failed", append(fields, zap.String("stack", e.Stack))...)
	} else {
		logger.Warn(ctx, "request rejected", fields...)
	}

	resp := Response{Code: e.Code, Message: e.Error(), TraceID: traceID(c)}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	c.JSON(status, resp)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, errors.BadRequest(message))
}

// AbortWithError renders err and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func traceID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
		return id
	}
	return c.GetString("trace_id")
}
