package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/portail-univ/demande-api/api/swagger"
	"github.com/portail-univ/demande-api/internal/handler"
	"github.com/portail-univ/demande-api/internal/middleware"
	"github.com/portail-univ/demande-api/internal/repository"
	"github.com/portail-univ/demande-api/internal/service"
	"github.com/portail-univ/demande-api/internal/workflow"
	"github.com/portail-univ/demande-api/pkg/cache"
	"github.com/portail-univ/demande-api/pkg/config"
	"github.com/portail-univ/demande-api/pkg/database"
	"github.com/portail-univ/demande-api/pkg/jobs"
	"github.com/portail-univ/demande-api/pkg/logger"
	corsmiddleware "github.com/portail-univ/demande-api/pkg/middleware/cors"
	reqidmiddleware "github.com/portail-univ/demande-api/pkg/middleware/requestid"
	"github.com/portail-univ/demande-api/pkg/storage"
)

// @title Portail Demandes API
// @version 1.0.0
// @description Student demande lifecycle service: submission, status workflow, receipts and exports
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	cacheRepo := repository.NewCacheRepository(nil, logr)
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, stats caching disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
		}
	}
	defer cacheRepo.Close() //nolint:errcheck

	demandeRepo := repository.NewDemandeRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	executor := workflow.NewExecutor(workflow.DefaultTables(), demandeRepo, auditRepo, logr)

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)
	documentSvc := service.NewDocumentService(demandeRepo, files, signer, service.DocumentConfig{
		APIPrefix: cfg.APIPrefix,
	}, logr)

	receiptQueue := jobs.NewQueue("documents", documentSvc.HandleReceiptJob, jobs.QueueConfig{
		Workers:    cfg.Documents.WorkerConcurrency,
		MaxRetries: cfg.Documents.WorkerRetries,
		Logger:     logr,
	})
	receiptQueue.Start(ctx)
	defer receiptQueue.Stop()

	metricsSvc := service.NewMetricsService()

	demandeSvc := service.NewDemandeService(demandeRepo, auditRepo, executor, logr,
		service.WithStatsCache(cacheRepo, cfg.Stats.CacheTTL),
		service.WithReceiptQueue(receiptQueue),
		service.WithMetrics(metricsSvc),
	)

	// receipts are regenerated on demand, stale files are safe to reap
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := documentSvc.Cleanup(0); err != nil {
					logr.Sugar().Warnw("document cleanup failed", "error", err)
				} else if len(removed) > 0 {
					logr.Sugar().Infow("document cleanup removed files", "count", len(removed))
				}
			}
		}
	}()

	reconcileSvc := service.NewReconcileService(demandeRepo, executor, cfg.Workflow.ReconcileInterval, logr)
	reconcileSvc.Start(ctx)

	authHandler := handler.NewAuthHandler(authSvc)
	demandeHandler := handler.NewDemandeHandler(demandeSvc)
	documentHandler := handler.NewDocumentHandler(documentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.PUT("/password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	// Signed token in the path is the sole credential for downloads.
	api.GET("/documents/:token", documentHandler.Download)

	demandes := api.Group("/demandes", middleware.JWT(authSvc))
	{
		demandes.POST("", demandeHandler.Create)
		demandes.GET("", demandeHandler.List)
		demandes.GET("/stats", demandeHandler.Stats)
		demandes.GET("/statuses", demandeHandler.Statuses)
		demandes.GET("/export", middleware.RequireStaff(), documentHandler.Export)
		demandes.GET("/:id", demandeHandler.Get)
		demandes.POST("/:id/transition", demandeHandler.Transition)
		demandes.GET("/:id/transitions", demandeHandler.Transitions)
		demandes.POST("/:id/comments", demandeHandler.AddComment)
		demandes.GET("/:id/comments", demandeHandler.ListComments)
		demandes.GET("/:id/audit", demandeHandler.Audit)
		demandes.GET("/:id/receipt", documentHandler.Receipt)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
