package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/pkg/response"
	userSvc "github.com/open-apime/relay/internal/service/user"
	"github.com/open-apime/relay/internal/storage"
	"github.com/open-apime/relay/internal/storage/model"
)

type UserHandler struct {
	service *userSvc.Service
}

func NewUserHandler(service *userSvc.Service) *UserHandler {
	return &UserHandler{service: service}
}

// Register espera um grupo já protegido por RequireAdmin.
func (h *UserHandler) Register(r gin.IRoutes) {
	r.GET("/users", h.list)
	r.POST("/users", h.create)
	r.PATCH("/users/:id", h.update)
	r.DELETE("/users/:id", h.delete)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// updateUserRequest aceita banned_until ("none" desbloqueia) por
// compatibilidade com o painel.
type updateUserRequest struct {
	Role        *string `json:"role"`
	Banned      *bool   `json:"banned"`
	BannedUntil *string `json:"banned_until"`
	Password    *string `json:"password"`
}

func (h *UserHandler) list(c *gin.Context) {
	users, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

func (h *UserHandler) create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	user, err := h.service.Create(c.Request.Context(), userSvc.CreateInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     model.UserRole(req.Role),
	})
	if err != nil {
		h.userError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *UserHandler) update(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	in := userSvc.UpdateInput{Banned: req.Banned, Password: req.Password}
	if req.Role != nil {
		role := model.UserRole(*req.Role)
		in.Role = &role
	}
	if req.BannedUntil != nil && in.Banned == nil {
		banned := *req.BannedUntil != "none"
		in.Banned = &banned
	}

	user, err := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.userError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *UserHandler) delete(c *gin.Context) {
	if c.Param("id") == c.GetString("userID") {
		response.ErrorWithMessage(c, http.StatusBadRequest, "não é possível remover o próprio usuário")
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.userError(c, err)
		return
	}
	response.OK(c, http.StatusOK)
}

func (h *UserHandler) userError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		response.ErrorWithMessage(c, http.StatusNotFound, "usuário não encontrado")
	case errors.Is(err, storage.ErrDuplicate):
		response.ErrorWithMessage(c, http.StatusBadRequest, "E-mail já cadastrado")
	case errors.Is(err, storage.ErrLastAdmin):
		response.ErrorWithMessage(c, http.StatusBadRequest, "não é possível remover o último administrador")
	case errors.Is(err, userSvc.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, err)
	default:
		response.Error(c, http.StatusInternalServerError, err)
	}
}
