package events

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/internal/logging"
)

type Handler struct {
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

// RegisterRoutes expects rg to already require authentication.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/events", h.record)
	rg.GET("/events", h.recent)
}

type eventReq struct {
	EventType string `json:"event_type"`
	MangaID   string `json:"manga_id"`
	Value     string `json:"value"`
}

// record answers 202 whether or not the event could be stored.
func (h *Handler) record(c *gin.Context) {
	var req eventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	userID := auth.UserID(c)
	if _, err := h.Service.Record(c.Request.Context(), userID, req.EventType, req.MangaID, req.Value); err != nil {
		if apperr.Status(err) == http.StatusBadRequest {
			apperr.Write(c, err)
			return
		}
		logging.Warn().Err(err).
			Str("user_id", userID).
			Str("event_type", req.EventType).
			Msg("event not recorded")
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (h *Handler) recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Service.Recent(c.Request.Context(), auth.UserID(c), limit)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
