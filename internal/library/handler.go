package library

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/pkg/models"
)

// Languages reports the display language chosen in a user's profile.
type Languages interface {
	Language(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	Service   *Service
	Languages Languages
}

func NewHandler(svc *Service, langs Languages) *Handler {
	return &Handler{Service: svc, Languages: langs}
}

// RegisterRoutes expects rg to already require authentication.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ratings", h.listRatings)
	rg.GET("/ratings/map", h.ratingsMap)
	rg.POST("/ratings", h.upsertRating)
	rg.DELETE("/ratings/*id", h.removeRating)

	rg.GET("/reading-list", h.listReadingList)
	rg.POST("/reading-list", h.addReadingList)
	rg.PUT("/reading-list/*id", h.updateReadingStatus)
	rg.DELETE("/reading-list/*id", h.removeReadingList)

	rg.GET("/dnr", h.listDnr)
	rg.POST("/dnr", h.addDnr)
	rg.DELETE("/dnr/*id", h.removeDnr)

	rg.GET("/library/locations", h.locations)
	rg.GET("/library/state", h.state)
}

// RegisterAdminRoutes expects rg to already require an admin session.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/ratings/import", h.importRatings)
	rg.GET("/ratings/export", h.exportRatings)
}

func (h *Handler) language(c *gin.Context, userID string) string {
	if h.Languages == nil {
		return models.LanguageEnglish
	}
	lang, err := h.Languages.Language(c.Request.Context(), userID)
	if err != nil || lang == "" {
		return models.LanguageEnglish
	}
	return lang
}

// pathID reads a catch-all id segment, falling back to ?manga_id=.
func pathID(c *gin.Context) string {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" {
		id = c.Query("manga_id")
	}
	return strings.TrimSpace(id)
}

// parseRating accepts a JSON number, a numeric string, or null/"" for no rating.
func parseRating(raw json.RawMessage) (*float64, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.Validation("rating", "must be a number")
		}
	}
	if s == "null" {
		return nil, nil
	}
	return parseRatingText(s)
}

func parseRatingText(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, apperr.Validation("rating", "must be a number")
	}
	return &v, nil
}

func (h *Handler) listRatings(c *gin.Context) {
	userID := auth.UserID(c)
	items, err := h.Service.ListRatings(c.Request.Context(), userID, c.Query("sort"), h.language(c, userID))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) ratingsMap(c *gin.Context) {
	userID := auth.UserID(c)
	m, err := h.Service.RatingsMap(c.Request.Context(), userID, h.language(c, userID))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type ratingReq struct {
	MangaID         string          `json:"manga_id"`
	Rating          json.RawMessage `json:"rating"`
	RecommendedByUs bool            `json:"recommended_by_us"`
	FinishedReading bool            `json:"finished_reading"`
}

func (h *Handler) upsertRating(c *gin.Context) {
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rating, err := parseRating(req.Rating)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	saved, err := h.Service.AddRating(c.Request.Context(), auth.UserID(c), req.MangaID, rating, req.RecommendedByUs, req.FinishedReading)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "item": saved})
}

func (h *Handler) removeRating(c *gin.Context) {
	if err := h.Service.RemoveRating(c.Request.Context(), auth.UserID(c), pathID(c)); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listReadingList(c *gin.Context) {
	userID := auth.UserID(c)
	items, err := h.Service.ListReadingList(c.Request.Context(), userID, c.Query("sort"), h.language(c, userID))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type readingReq struct {
	MangaID string `json:"manga_id"`
	Status  string `json:"status"`
}

func (h *Handler) addReadingList(c *gin.Context) {
	var req readingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Service.AddToReadingList(c.Request.Context(), auth.UserID(c), req.MangaID, req.Status); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) updateReadingStatus(c *gin.Context) {
	var req readingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Service.UpdateReadingStatus(c.Request.Context(), auth.UserID(c), pathID(c), req.Status); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) removeReadingList(c *gin.Context) {
	if err := h.Service.RemoveFromReadingList(c.Request.Context(), auth.UserID(c), pathID(c)); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listDnr(c *gin.Context) {
	userID := auth.UserID(c)
	items, err := h.Service.ListDnr(c.Request.Context(), userID, c.Query("sort"), h.language(c, userID))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type dnrReq struct {
	MangaID string `json:"manga_id"`
}

func (h *Handler) addDnr(c *gin.Context) {
	var req dnrReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Service.AddToDnr(c.Request.Context(), auth.UserID(c), req.MangaID); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) removeDnr(c *gin.Context) {
	if err := h.Service.RemoveFromDnr(c.Request.Context(), auth.UserID(c), pathID(c)); err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) locations(c *gin.Context) {
	locs, err := h.Service.GetLocations(c.Request.Context(), auth.UserID(c), c.Query("manga_id"))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locs})
}

func (h *Handler) state(c *gin.Context) {
	st, err := h.Service.State(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type importReq struct {
	CSV string `json:"csv"`
}

func (h *Handler) importRatings(c *gin.Context) {
	var req importReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CSV) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv required"})
		return
	}
	n, err := h.Service.ImportRatingsCSV(c.Request.Context(), auth.UserID(c), strings.NewReader(req.CSV))
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": n})
}

func (h *Handler) exportRatings(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.Service.ExportRatingsCSV(c.Request.Context(), auth.UserID(c), &buf); err != nil {
		apperr.Write(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=ratings.csv")
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}
