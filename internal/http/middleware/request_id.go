package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestID tags every request with a fresh id, stored on the context under
// RequestIDKey and echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := uuid.NewString()
		ctx.Set(RequestIDKey, id)
		ctx.Header(RequestIDHeader, id)
		ctx.Next()
	}
}
