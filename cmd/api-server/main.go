package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/auth"
	"mangashelf/internal/catalog"
	"mangashelf/internal/events"
	"mangashelf/internal/library"
	"mangashelf/internal/logging"
	"mangashelf/internal/profile"
	"mangashelf/internal/recommend"
	synchub "mangashelf/internal/sync"
	"mangashelf/pkg/database"
	"mangashelf/pkg/utils"
)

func main() {
	cfg, err := utils.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	dbCfg := database.Config{Path: cfg.Database.Path}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(context.Background(), db); err != nil {
		logging.Fatal().Err(err).Msg("db migrate failed")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware())
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	hub := synchub.NewHub()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"db_error": err.Error(),
				"ws":       stats,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok", "ws": stats})
	})

	api := router.Group(cfg.Server.BasePath + "/api")

	// Auth
	tokenSvc := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
	authRepo := auth.NewRepo(db)
	authSvc := auth.NewService(authRepo, cfg.Auth.BootstrapAdmin)
	authHandler := auth.NewHandler(authSvc, tokenSvc, auth.NewRateLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst))
	authHandler.CookieSecure = cfg.Auth.CookieSecure
	if cfg.Server.BasePath != "" {
		authHandler.CookiePath = cfg.Server.BasePath
	}
	authHandler.RegisterRoutes(api)

	required := auth.AuthMiddleware(tokenSvc, authRepo)
	optional := auth.OptionalAuth(tokenSvc, authRepo)

	// Services
	catalogRepo := catalog.NewRepo(db)
	profileRepo := profile.NewRepo(db)
	profileSvc := profile.NewService(profileRepo, catalogRepo)

	libSvc := library.NewService(library.NewRepo(db), catalogRepo, hub)
	libSvc.Signals = profileSvc

	eventSvc := events.NewService(events.NewRepo(db), catalogRepo, profileSvc)

	var engine recommend.Engine
	if cfg.Recommend.EngineURL != "" {
		engine = recommend.NewRemoteEngine(recommend.RemoteConfig{
			URL:       cfg.Recommend.EngineURL,
			Timeout:   cfg.Recommend.Timeout,
			Failures:  cfg.Recommend.BreakerFailures,
			OpenDelay: cfg.Recommend.BreakerOpenDelay,
		})
		logging.Info().Str("url", cfg.Recommend.EngineURL).Msg("using remote recommendation engine")
	} else {
		engine = recommend.NewLocalEngine(catalogRepo)
	}
	recHandler := recommend.NewHandler(recommend.NewService(engine, profileSvc, libSvc), catalogRepo)

	// Public (session optional)
	public := api.Group("")
	public.Use(optional)
	catalog.NewHandler(catalogRepo, libSvc).RegisterRoutes(public)
	recHandler.RegisterPublicRoutes(public)

	// Signed in
	protected := api.Group("")
	protected.Use(required)
	library.NewHandler(libSvc, profileRepo).RegisterRoutes(protected)
	profile.NewHandler(profileSvc).RegisterRoutes(protected)
	events.NewHandler(eventSvc).RegisterRoutes(protected)
	recHandler.RegisterRoutes(protected)
	protected.GET("/ws", synchub.WSHandler(hub))

	// Admin
	admin := api.Group("/admin")
	admin.Use(required, auth.AdminOnly(authRepo))
	library.NewHandler(libSvc, profileRepo).RegisterAdminRoutes(admin)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).Msg("HTTP API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logging.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown error")
	}
	logging.Info().Msg("server stopped")
}
