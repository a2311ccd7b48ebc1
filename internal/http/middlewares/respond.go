package middlewares

import "github.com/gin-gonic/gin"

// abortWithError emits the same {"error":{code,message,requestId}} envelope
// the handlers use, so middleware rejections look like every other rejection.
func abortWithError(c *gin.Context, status int, code, message string) {
	body := gin.H{
		"code":    code,
		"message": message,
	}

	if reqID := c.GetString(CtxRequestID); reqID != "" {
		body["requestId"] = reqID
	} else if headerID := c.GetHeader("X-Request-Id"); headerID != "" {
		body["requestId"] = headerID
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
