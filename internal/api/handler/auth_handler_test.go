package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	authSvc "github.com/open-apime/relay/internal/service/auth"
	"github.com/open-apime/relay/internal/storage/model"
	"github.com/open-apime/relay/internal/storage/storagetest"
)

func seedUser(t *testing.T, repo *storagetest.Users, email, password string, role model.UserRole, banned bool) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := repo.Create(context.Background(), model.User{Email: email, PasswordHash: string(hash), Role: role, Banned: banned})
	require.NoError(t, err)
	return u
}

func TestLogin(t *testing.T) {
	repo := storagetest.NewUsers()
	seedUser(t, repo, "admin@exemplo.com", "segredo", model.UserRoleAdmin, false)
	seedUser(t, repo, "bloqueado@exemplo.com", "segredo", model.UserRoleUser, true)
	svc := authSvc.NewService("s3cr3t", 1, repo)

	r := gin.New()
	NewAuthHandler(svc, zap.NewNop()).Register(r)

	w := perform(r, http.MethodPost, "/login", gin.H{"email": "admin@exemplo.com", "password": "segredo"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"email": "admin@exemplo.com", "role": "admin"}, body["user"])

	token, _ := body["token"].(string)
	u, err := svc.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "admin@exemplo.com", u.Email)

	w = perform(r, http.MethodPost, "/login", gin.H{"email": "admin@exemplo.com", "password": "errada"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "E-mail ou senha incorretos", decode(t, w)["error"])

	w = perform(r, http.MethodPost, "/login", gin.H{"email": "bloqueado@exemplo.com", "password": "segredo"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Sua conta está suspensa", decode(t, w)["error"])

	w = perform(r, http.MethodPost, "/login", gin.H{"email": "admin@exemplo.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
