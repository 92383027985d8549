package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/manager"
	"github.com/open-apime/relay/internal/pkg/response"
	"github.com/open-apime/relay/internal/qr"
	"github.com/open-apime/relay/internal/session"
)

// InstanceManager é o subconjunto do manager usado pelas rotas de instância.
type InstanceManager interface {
	Create(ctx context.Context, id string) (session.Info, error)
	List() []session.Info
	Instance(id string) (*session.Instance, error)
	Settings(id string) (session.Settings, error)
	UpdateSettings(id string, patch session.SettingsPatch) (session.Settings, error)
	Remove(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	Send(ctx context.Context, id, number, text string) (string, error)
}

type InstanceHandler struct {
	manager InstanceManager
	log     *zap.Logger
}

func NewInstanceHandler(m InstanceManager, log *zap.Logger) *InstanceHandler {
	return &InstanceHandler{manager: m, log: log}
}

func (h *InstanceHandler) Register(r gin.IRoutes) {
	r.GET("/instances", h.list)
	r.POST("/instances", h.create)
	r.DELETE("/instances/:id", h.delete)
	r.GET("/instances/:id/settings", h.getSettings)
	r.POST("/instances/:id/settings", h.saveSettings)
	r.GET("/instances/:id/qr", h.getQR)
	r.POST("/instances/:id/reset", h.reset)
	r.POST("/instances/:id/send", h.send)
}

type createInstanceRequest struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (h *InstanceHandler) list(c *gin.Context) {
	response.Success(c, http.StatusOK, h.manager.List())
}

func (h *InstanceHandler) create(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		response.ErrorWithMessage(c, http.StatusBadRequest, "ID é obrigatório")
		return
	}

	if _, err := h.manager.Create(c.Request.Context(), req.ID); err != nil {
		h.instanceError(c, err)
		return
	}
	response.OK(c, http.StatusOK)
}

func (h *InstanceHandler) getSettings(c *gin.Context) {
	settings, err := h.manager.Settings(c.Param("id"))
	if err != nil {
		h.instanceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

func (h *InstanceHandler) saveSettings(c *gin.Context) {
	var patch session.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	if _, err := h.manager.UpdateSettings(c.Param("id"), patch); err != nil {
		h.instanceError(c, err)
		return
	}
	response.OK(c, http.StatusOK)
}

func (h *InstanceHandler) getQR(c *gin.Context) {
	inst, err := h.manager.Instance(c.Param("id"))
	if err != nil {
		h.instanceError(c, err)
		return
	}

	code, ok := inst.QR()
	if !ok {
		response.ErrorWithMessage(c, http.StatusBadRequest, "QR Code não disponível ou já conectado")
		return
	}

	png, err := qr.PNG(code, qr.DefaultSize, qr.DefaultMargin)
	if err != nil {
		h.log.Warn("erro ao gerar PNG do QR", zap.String("instance_id", inst.ID()), zap.Error(err))
		response.ErrorWithMessage(c, http.StatusInternalServerError, "Erro ao gerar QR Code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *InstanceHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Remove(c.Request.Context(), id); err != nil {
		var diskErr *manager.DiskError
		if errors.As(err, &diskErr) {
			h.log.Error("erro ao remover instância", zap.String("instance_id", id), zap.Error(err))
			response.ErrorWithDetails(c, http.StatusInternalServerError, "Falha ao deletar instância", diskErr.Error())
			return
		}
		h.instanceError(c, err)
		return
	}
	response.OK(c, http.StatusOK)
}

func (h *InstanceHandler) reset(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Reset(c.Request.Context(), id); err != nil {
		if errors.Is(err, manager.ErrNotFound) {
			h.instanceError(c, err)
			return
		}
		h.log.Error("erro ao resetar instância", zap.String("instance_id", id), zap.Error(err))
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Falha ao resetar instância", err.Error())
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"success": true,
		"message": "Instância resetada. QR Code será gerado em breve.",
	})
}

func (h *InstanceHandler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	id := c.Param("id")
	if _, err := h.manager.Send(c.Request.Context(), id, req.Number, req.Message); err != nil {
		switch {
		case errors.Is(err, manager.ErrNotFound), errors.Is(err, manager.ErrValidation), errors.Is(err, manager.ErrNotConnected):
			h.instanceError(c, err)
		default:
			h.log.Error("erro ao enviar mensagem", zap.String("instance_id", id), zap.Error(err))
			response.ErrorWithMessage(c, http.StatusInternalServerError, "Falha ao enviar mensagem")
		}
		return
	}
	response.OK(c, http.StatusOK)
}

func (h *InstanceHandler) instanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		response.ErrorWithMessage(c, http.StatusNotFound, "Instância não encontrada")
	case errors.Is(err, manager.ErrNotConnected):
		response.ErrorWithMessage(c, http.StatusBadRequest, "Instância não conectada")
	case errors.Is(err, manager.ErrValidation), errors.Is(err, session.ErrInvalidSettings):
		response.Error(c, http.StatusBadRequest, err)
	default:
		h.log.Error("erro inesperado em instância", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, err)
	}
}
