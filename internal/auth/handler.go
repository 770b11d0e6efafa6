package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

type Handler struct {
	Service *Service
	Tokens  TokenService
	Limiter *RateLimiter

	CookiePath   string
	CookieSecure bool
}

func NewHandler(svc *Service, tokens TokenService, limiter *RateLimiter) *Handler {
	return &Handler{Service: svc, Tokens: tokens, Limiter: limiter, CookiePath: "/"}
}

// RegisterRoutes mounts session, auth and admin routes under the api group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	repo := h.Service.Repo
	required := AuthMiddleware(h.Tokens, repo)

	api.GET("/session", OptionalAuth(h.Tokens, repo), h.session)

	rg := api.Group("/auth")
	rg.POST("/register", h.Limiter.Middleware(), h.register)
	rg.POST("/login", h.Limiter.Middleware(), h.login)
	rg.POST("/logout", required, h.logout)
	rg.POST("/change-password", required, h.changePassword)
	rg.POST("/delete-account", required, h.deleteAccount)

	api.POST("/admin/switch-user", required, AdminOnly(repo), h.switchUser)
}

func (h *Handler) session(c *gin.Context) {
	claims := MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusOK, gin.H{"logged_in": false, "user": nil, "is_admin": false})
		return
	}
	u, err := h.Service.Repo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusOK, gin.H{"logged_in": false, "user": nil, "is_admin": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_in": true, "user": u.Username, "is_admin": u.IsAdmin})
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := h.Service.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	// auto-login
	h.issueSession(c, http.StatusCreated, u)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := h.Service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	h.issueSession(c, http.StatusOK, u)
}

func (h *Handler) issueSession(c *gin.Context, status int, u *models.User) {
	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(time.Until(exp).Seconds()), h.CookiePath, "", h.CookieSecure, true)

	c.JSON(status, gin.H{
		"ok": true,
		"user": gin.H{
			"id":       u.ID,
			"username": u.Username,
			"is_admin": u.IsAdmin,
		},
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, h.CookiePath, "", h.CookieSecure, true)
}

func (h *Handler) logout(c *gin.Context) {
	claims := MustGetClaims(c)
	if err := h.Service.Repo.BumpTokenVersion(c.Request.Context(), claims.UserID); err != nil {
		apperr.Write(c, err)
		return
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	claims := MustGetClaims(c)
	if err := h.Service.ChangePassword(c.Request.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		apperr.Write(c, err)
		return
	}

	// the bump invalidated the current token; hand out a fresh one
	u, err := h.Service.Repo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || u == nil {
		h.clearCookie(c)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	h.issueSession(c, http.StatusOK, u)
}

func (h *Handler) deleteAccount(c *gin.Context) {
	claims := MustGetClaims(c)
	if err := h.Service.DeleteAccount(c.Request.Context(), claims.UserID); err != nil {
		apperr.Write(c, err)
		return
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type switchUserReq struct {
	Username string `json:"username"`
}

func (h *Handler) switchUser(c *gin.Context) {
	var req switchUserReq
	if err := c.ShouldBindJSON(&req); err != nil || NormalizeUsername(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}
	u, err := h.Service.Repo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		apperr.Write(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	h.issueSession(c, http.StatusOK, u)
}
