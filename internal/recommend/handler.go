package recommend

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
)

type OptionsSource interface {
	Options(ctx context.Context) (catalog.Options, error)
}

type Handler struct {
	Service *Service
	Options OptionsSource
}

func NewHandler(svc *Service, opts OptionsSource) *Handler {
	return &Handler{Service: svc, Options: opts}
}

// RegisterRoutes mounts the ranking endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/recommendations", h.recommend)
	rg.GET("/recommendations", h.recommendDefault)
}

// RegisterPublicRoutes mounts what anonymous callers may read.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/recommendations/options", h.options)
}

func (h *Handler) recommend(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.respond(c, req, true)
}

// recommendDefault ranks from the profile alone and leaves history untouched.
func (h *Handler) recommendDefault(c *gin.Context) {
	var req Request
	if n, err := strconv.Atoi(c.Query("limit")); err == nil {
		req.Limit = n
	}
	h.respond(c, req, false)
}

func (h *Handler) respond(c *gin.Context, req Request, remember bool) {
	resp, err := h.Service.Recommend(c.Request.Context(), auth.UserID(c), req, remember)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstream) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "recommendation engine unavailable", "items": []Item{}})
			return
		}
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) options(c *gin.Context) {
	opts, err := h.Options.Options(c.Request.Context())
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}
