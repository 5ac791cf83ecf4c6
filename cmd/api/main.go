package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/k12share/paperclip-api/api/swagger"
	"github.com/k12share/paperclip-api/internal/handler"
	"github.com/k12share/paperclip-api/internal/middleware"
	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/repository"
	"github.com/k12share/paperclip-api/internal/service"
	"github.com/k12share/paperclip-api/pkg/cache"
	"github.com/k12share/paperclip-api/pkg/config"
	"github.com/k12share/paperclip-api/pkg/database"
	"github.com/k12share/paperclip-api/pkg/jobs"
	"github.com/k12share/paperclip-api/pkg/logger"
	corsmiddleware "github.com/k12share/paperclip-api/pkg/middleware/cors"
	reqidmiddleware "github.com/k12share/paperclip-api/pkg/middleware/requestid"
	"github.com/k12share/paperclip-api/pkg/storage"
)

// @title Paperclip API
// @version 0.1.0
// @description K-12 educational resource sharing platform with a points economy
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}

	tiers := models.DefaultTierTable()
	validate := validator.New()

	pointRepo := repository.NewPointRepository(db, tiers)
	userRepo := repository.NewUserRepository(db, tiers)
	bountyRepo := repository.NewBountyRepository(db, tiers)
	resourceRepo := repository.NewResourceRepository(db, tiers)

	metricsSvc := service.NewMetricsService()
	pointsSvc := service.NewPointsService(pointRepo, userRepo, tiers, metricsSvc, logr)
	gradeSvc := service.NewGradeService(userRepo, cfg.Grades, metricsSvc, logr)
	userSvc := service.NewUserService(userRepo, pointsSvc, resourceRepo, bountyRepo, cfg.Points, validate, logr)
	bountySvc := service.NewBountyService(bountyRepo, resourceRepo, cfg.Points, metricsSvc, validate, logr)

	uploadSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	resourceSvc := service.NewResourceService(resourceRepo, pointsSvc, uploadStore, uploadSigner, cfg.Points, cfg.Uploads, validate, logr)
	statementSvc := service.NewStatementService(pointRepo, userRepo, exportStore, exportSigner, service.StatementConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)

	smsSvc := service.NewSMSService(redisClient, nil, cfg.SMS, validate, logr)
	smsQueue := jobs.NewQueue("sms", smsSvc.DeliveryHandler(), jobs.QueueConfig{Logger: logr})
	smsSvc.SetDispatcher(smsQueue)
	smsQueue.Start(context.Background())
	defer smsQueue.Stop()

	authSvc := service.NewAuthService(userRepo, userSvc, smsSvc, gradeSvc, cfg.JWT, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc, smsSvc)
	userHandler := handler.NewUserHandler(userSvc)
	pointsHandler := handler.NewPointsHandler(pointsSvc)
	resourceHandler := handler.NewResourceHandler(resourceSvc)
	bountyHandler := handler.NewBountyHandler(bountySvc)
	adminHandler := handler.NewAdminHandler(gradeSvc, statementSvc, exportStore)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/sms-code", authHandler.SendSMSCode)
		auth.POST("/password/reset", authHandler.ResetPassword)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	api.GET("/files/:token", resourceHandler.File)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/users/me", userHandler.Me)
		protected.PUT("/users/me", userHandler.UpdateProfile)
		protected.POST("/users/me/signin", userHandler.SignIn)
		protected.GET("/users", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		protected.GET("/users/:id", middleware.RBAC("ADMIN", "SELF"), userHandler.Get)
		protected.GET("/users/:id/stats", middleware.RBAC("ADMIN", "SELF"), userHandler.Stats)
		protected.DELETE("/users/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Deactivate)

		protected.GET("/points/history", pointsHandler.History)
		protected.POST("/points/transfer", pointsHandler.Transfer)

		protected.GET("/resources", resourceHandler.List)
		protected.POST("/resources", resourceHandler.Upload)
		protected.GET("/resources/:id", resourceHandler.Get)
		protected.POST("/resources/:id/download", resourceHandler.Download)

		protected.GET("/bounties", bountyHandler.List)
		protected.POST("/bounties", bountyHandler.Create)
		protected.GET("/bounties/:id", bountyHandler.Get)
		protected.POST("/bounties/:id/responses", bountyHandler.Respond)
		protected.GET("/bounties/:id/responses", bountyHandler.Responses)
		protected.POST("/bounties/:id/responses/:responseId/select", bountyHandler.Select)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.DELETE("/resources/:id", resourceHandler.Deactivate)
		admin.POST("/points/adjust", pointsHandler.Adjust)
		admin.GET("/points/:id/reconcile", pointsHandler.Reconcile)
		admin.POST("/grades/upgrade", adminHandler.UpgradeGrades)
		admin.POST("/statements", adminHandler.GenerateStatement)
		admin.GET("/statements/:token", adminHandler.DownloadStatement)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
