package core

import "github.com/gin-gonic/gin"

// Error codes carried in error payloads.
const (
	codeValidation = "VALIDATION_ERROR"
	codeForbidden  = "FORBIDDEN"
	codeInternal   = "INTERNAL_SERVER_ERROR"
)

// respondError aborts the chain with the unified payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
