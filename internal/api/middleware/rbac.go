package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/pkg/response"
	"github.com/open-apime/relay/internal/storage/model"
)

// RequireAdmin exige que Auth tenha identificado um administrador.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(model.UserRoleAdmin)
}

func RequireRole(role model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUserID) == "" {
			response.ErrorWithMessage(c, http.StatusUnauthorized, "usuário não autenticado")
			return
		}
		if c.GetString(ctxUserRole) != string(role) {
			response.ErrorWithMessage(c, http.StatusForbidden, "acesso negado: permissão insuficiente")
			return
		}
		c.Next()
	}
}
