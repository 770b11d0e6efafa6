package catalog

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/internal/auth"
	"mangashelf/pkg/models"
)

// Exclusions lists the ids a user keeps in one library collection
// ("ratings", "reading" or "dnr").
type Exclusions interface {
	CollectionIDs(ctx context.Context, userID, collection string) ([]string, error)
}

type Handler struct {
	Repo       *Repo
	Exclusions Exclusions
}

func NewHandler(repo *Repo, exclusions Exclusions) *Handler {
	return &Handler{Repo: repo, Exclusions: exclusions}
}

// RegisterRoutes mounts under /manga. Authentication is optional; it only
// enables ?exclude=.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/search", h.search)
	rg.GET("/browse", h.browse)
	rg.GET("/details", h.details)
	rg.GET("/options", h.options)
}

func (h *Handler) search(c *gin.Context) {
	ctx := c.Request.Context()
	q := SearchQuery{
		Q:     c.Query("q"),
		Limit: parseInt(c.Query("limit"), 10),
	}

	if exclude := strings.TrimSpace(c.Query("exclude")); exclude != "" && h.Exclusions != nil {
		if userID := auth.UserID(c); userID != "" {
			ids, err := h.Exclusions.CollectionIDs(ctx, userID, exclude)
			if err != nil {
				apperr.Write(c, err)
				return
			}
			q.ExcludeIDs = ids
		}
	}

	items, err := h.Repo.Search(ctx, q)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	if collapse(c) {
		items = Collapse(items)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) browse(c *gin.Context) {
	ctx := c.Request.Context()
	q := BrowseQuery{
		Genres:       queryList(c, "genres"),
		Themes:       queryList(c, "themes"),
		ContentTypes: queryList(c, "content_types"),
		Status:       c.Query("status"),
		Sort:         c.Query("sort"),
		Limit:        clampLimit(parseInt(c.Query("limit"), 20), 20, 100),
		Offset:       max(parseInt(c.Query("offset"), 0), 0),
	}
	if s := strings.TrimSpace(c.Query("min_score")); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			apperr.Write(c, apperr.Validation("min_score", "must be a number"))
			return
		}
		q.MinScore = &v
	}
	if s := strings.TrimSpace(c.Query("min_year")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			apperr.Write(c, apperr.Validation("min_year", "must be a year"))
			return
		}
		q.MinYear = &v
	}

	total, err := h.Repo.Count(ctx, q)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	items, err := h.Repo.Browse(ctx, q)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	if collapse(c) {
		items = Collapse(items)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
		"items":  items,
	})
}

func (h *Handler) details(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		t   *models.Title
		err error
	)
	if id := strings.TrimSpace(c.Query("id")); id != "" {
		t, err = h.Repo.GetByID(ctx, id)
	} else if title := strings.TrimSpace(c.Query("title")); title != "" {
		t, err = h.Repo.GetByTitle(ctx, title)
	} else {
		apperr.Write(c, apperr.Validation("id", "id or title is required"))
		return
	}
	if err != nil {
		apperr.Write(c, err)
		return
	}
	if t == nil {
		apperr.Write(c, apperr.NotFound("manga"))
		return
	}
	c.JSON(http.StatusOK, BuildDetails(*t))
}

func (h *Handler) options(c *gin.Context) {
	opts, err := h.Repo.Options(c.Request.Context())
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}

func collapse(c *gin.Context) bool {
	v := strings.ToLower(strings.TrimSpace(c.Query("collapse")))
	return v == "1" || v == "true"
}

// queryList accepts genres=Action,Drama as well as genres=Action&genres=Drama.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
