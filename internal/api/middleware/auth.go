package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/pkg/response"
	authSvc "github.com/open-apime/relay/internal/service/auth"
	"github.com/open-apime/relay/internal/storage/model"
)

const (
	ctxUserID    = "userID"
	ctxUserRole  = "userRole"
	ctxUserEmail = "userEmail"

	// EventSource não envia cabeçalhos; o stream de logs aceita o token na query.
	tokenQueryParam = "access_token"
)

// IdentityLookup resolve um bearer token para um usuário.
type IdentityLookup interface {
	Lookup(ctx context.Context, token string) (model.User, error)
}

func Auth(identity IdentityLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query(tokenQueryParam)
		}
		if token == "" {
			response.ErrorWithMessage(c, http.StatusUnauthorized, "token ausente")
			return
		}

		user, err := identity.Lookup(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, authSvc.ErrBanned):
			response.ErrorWithMessage(c, http.StatusForbidden, "usuário bloqueado")
			return
		case errors.Is(err, authSvc.ErrInvalidToken):
			response.ErrorWithMessage(c, http.StatusUnauthorized, "token inválido")
			return
		default:
			response.ErrorWithMessage(c, http.StatusInternalServerError, "falha ao validar token")
			return
		}

		c.Set(ctxUserID, user.ID)
		c.Set(ctxUserRole, string(user.Role))
		c.Set(ctxUserEmail, user.Email)
		c.Next()
	}
}
