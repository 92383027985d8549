// Package response padroniza as respostas JSON da API.
package response

import (
	"github.com/gin-gonic/gin"
)

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// OK responde {"success": true}.
func OK(c *gin.Context, status int) {
	c.JSON(status, gin.H{"success": true})
}

func Error(c *gin.Context, status int, err error) {
	ErrorWithMessage(c, status, err.Error())
}

func ErrorWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func ErrorWithDetails(c *gin.Context, status int, message, details string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "details": details})
}
