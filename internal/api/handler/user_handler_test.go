package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userSvc "github.com/open-apime/relay/internal/service/user"
	"github.com/open-apime/relay/internal/storage/model"
	"github.com/open-apime/relay/internal/storage/storagetest"
)

func userRouter(t *testing.T) (*gin.Engine, *storagetest.Users, model.User) {
	t.Helper()
	repo := storagetest.NewUsers()
	admin := seedUser(t, repo, "admin@exemplo.com", "segredo", model.UserRoleAdmin, false)

	r := gin.New()
	group := r.Group("")
	group.Use(func(c *gin.Context) {
		c.Set("userID", admin.ID)
		c.Next()
	})
	NewUserHandler(userSvc.NewService(repo)).Register(group)
	return r, repo, admin
}

func TestCreateUser(t *testing.T) {
	r, repo, _ := userRouter(t)

	w := perform(r, http.MethodPost, "/users", gin.H{"email": "Op@Exemplo.com", "password": "1234"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"user"`)
	assert.NotContains(t, w.Body.String(), "password")

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	w = perform(r, http.MethodPost, "/users", gin.H{"email": "op@exemplo.com", "password": "1234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "E-mail já cadastrado", decode(t, w)["error"])

	w = perform(r, http.MethodPost, "/users", gin.H{"email": "curta@exemplo.com", "password": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/users", gin.H{"email": "x@exemplo.com", "password": "1234", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateUserBan(t *testing.T) {
	r, repo, _ := userRouter(t)
	op := seedUser(t, repo, "op@exemplo.com", "segredo", model.UserRoleUser, false)

	w := perform(r, http.MethodPatch, "/users/"+op.ID, gin.H{"banned_until": "876000h"})
	require.Equal(t, http.StatusOK, w.Code)
	got, err := repo.GetByID(context.Background(), op.ID)
	require.NoError(t, err)
	assert.True(t, got.Banned)

	w = perform(r, http.MethodPatch, "/users/"+op.ID, gin.H{"banned_until": "none"})
	require.Equal(t, http.StatusOK, w.Code)
	got, err = repo.GetByID(context.Background(), op.ID)
	require.NoError(t, err)
	assert.False(t, got.Banned)

	w = perform(r, http.MethodPatch, "/users/desconhecido", gin.H{"role": "admin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteUser(t *testing.T) {
	r, repo, admin := userRouter(t)
	op := seedUser(t, repo, "op@exemplo.com", "segredo", model.UserRoleUser, false)

	w := perform(r, http.MethodDelete, "/users/"+admin.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodDelete, "/users/"+op.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "op@exemplo.com")
}
