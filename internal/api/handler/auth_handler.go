package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/pkg/response"
	authSvc "github.com/open-apime/relay/internal/service/auth"
	"github.com/open-apime/relay/internal/storage/model"
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, model.User, error)
}

type AuthHandler struct {
	auth Authenticator
	log  *zap.Logger
}

func NewAuthHandler(auth Authenticator, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

// Register recebe os middlewares da rota de login (limite por IP).
func (h *AuthHandler) Register(r gin.IRoutes, mw ...gin.HandlerFunc) {
	r.POST("/login", append(mw, h.login)...)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "email e password são obrigatórios")
		return
	}

	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, authSvc.ErrInvalidCredentials):
		response.ErrorWithMessage(c, http.StatusUnauthorized, "E-mail ou senha incorretos")
		return
	case errors.Is(err, authSvc.ErrBanned):
		response.ErrorWithMessage(c, http.StatusForbidden, "Sua conta está suspensa")
		return
	default:
		h.log.Error("erro no login", zap.Error(err))
		response.ErrorWithMessage(c, http.StatusInternalServerError, "falha ao autenticar")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"email": user.Email,
			"role":  user.Role,
		},
		"token": token,
	})
}
