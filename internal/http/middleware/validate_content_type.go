package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireMultipart rejects uploads that are not multipart/form-data.
func RequireMultipart() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.ContentType() != gin.MIMEMultipartPOSTForm {
			ctx.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"success": false,
				"error":   "uploads must be sent as multipart/form-data",
			})
			return
		}
		ctx.Next()
	}
}
