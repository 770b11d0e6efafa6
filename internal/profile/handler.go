package profile

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
)

type Handler struct {
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

// RegisterRoutes expects rg to already require authentication.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/profile", h.get)
	rg.PUT("/profile", h.update)
	rg.POST("/profile/clear-history", h.clearHistory)
	rg.GET("/profile/signals", h.signals)

	rg.GET("/ui-prefs", h.getUIPrefs)
	rg.PUT("/ui-prefs", h.putUIPrefs)
}

func (h *Handler) get(c *gin.Context) {
	v, err := h.Service.GetProfile(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) update(c *gin.Context) {
	var req Update
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	v, err := h.Service.UpdateProfile(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) clearHistory(c *gin.Context) {
	if err := h.Service.ClearHistory(c.Request.Context(), auth.UserID(c)); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) signals(c *gin.Context) {
	v, err := h.Service.Signals(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) getUIPrefs(c *gin.Context) {
	prefs, err := h.Service.UIPrefs(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) putUIPrefs(c *gin.Context) {
	var prefs map[string]any
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ui prefs must be an object"})
		return
	}
	if err := h.Service.SetUIPrefs(c.Request.Context(), auth.UserID(c), prefs); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}
