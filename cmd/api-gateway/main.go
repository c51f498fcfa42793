package main

import (
	"context"
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

	_ "github.com/noah-isme/cca-admission-api/api/swagger"
	"github.com/noah-isme/cca-admission-api/internal/events"
	"github.com/noah-isme/cca-admission-api/internal/handler"
	"github.com/noah-isme/cca-admission-api/internal/middleware"
	"github.com/noah-isme/cca-admission-api/internal/models"
	"github.com/noah-isme/cca-admission-api/internal/repository"
	"github.com/noah-isme/cca-admission-api/internal/service"
	"github.com/noah-isme/cca-admission-api/pkg/cache"
	"github.com/noah-isme/cca-admission-api/pkg/config"
	"github.com/noah-isme/cca-admission-api/pkg/database"
	"github.com/noah-isme/cca-admission-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/cca-admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cca-admission-api/pkg/middleware/requestid"
)

// @title CCA Admission API
// @version 1.0.0
// @description Capacity-safe course admission service
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheService *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink events.Publisher
	if cfg.Events.Enabled {
		sink = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logr)
	} else {
		sink = events.NewLogPublisher(logr)
	}
	dispatcher := events.NewDispatcher(sink, events.DispatcherConfig{Workers: cfg.Events.Workers}, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	txCfg := repository.TxConfig{
		LockTimeout: cfg.Admission.LockTimeout,
		MaxAttempts: cfg.Admission.LockRetries,
		Backoff:     cfg.Admission.LockRetryBackoff,
	}

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	candidateRepo := repository.NewCandidateRepository(db)
	preinscriptionRepo := repository.NewPreinscriptionRepository(db, txCfg)
	enrollmentRepo := repository.NewEnrollmentRepository(db, txCfg)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "cca-admission-api",
	})
	courseService := service.NewCourseService(courseRepo, cacheService, cfg.Cache.TTL, validate, logr)
	candidateService := service.NewCandidateService(candidateRepo, logr)
	admissionService := service.NewAdmissionService(preinscriptionRepo, dispatcher, metrics, courseService, cfg.Admission.SubmissionLeadTime, validate, logr)
	reviewService := service.NewReviewService(preinscriptionRepo, dispatcher, metrics, courseService, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, preinscriptionRepo, dispatcher, metrics, validate, logr)
	outcomeService := service.NewOutcomeService(enrollmentRepo, dispatcher, metrics, courseService, cfg.Admission.PassingScore, validate, logr)

	authHandler := handler.NewAuthHandler(authService)
	courseHandler := handler.NewCourseHandler(courseService)
	candidateHandler := handler.NewCandidateHandler(candidateService)
	preinscriptionHandler := handler.NewPreinscriptionHandler(admissionService, reviewService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, outcomeService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.GET("/:id/price", courseHandler.Quote)
		courses.POST("",
			middleware.JWT(authService),
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionCourseCreate, "courses"),
			courseHandler.Create)
		courses.DELETE("/:id",
			middleware.JWT(authService),
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionCourseArchive, "courses"),
			courseHandler.Archive)
		courses.PUT("/:id/price", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin), courseHandler.SetPrice)
	}

	candidates := api.Group("/candidates", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))
	{
		candidates.GET("", candidateHandler.List)
		candidates.GET("/:id", candidateHandler.Get)
	}

	preinscriptions := api.Group("/preinscriptions", middleware.JWT(authService))
	{
		preinscriptions.POST("",
			middleware.Audit(userRepo, models.AuditActionPreinscriptionSubmit, "preinscriptions"),
			preinscriptionHandler.Submit)
		preinscriptions.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), preinscriptionHandler.List)
		preinscriptions.GET("/:id", preinscriptionHandler.Get)
		preinscriptions.PUT("/:id/review",
			middleware.RequireRoles(models.RoleAdmin, models.RoleStaff),
			middleware.Audit(userRepo, models.AuditActionPreinscriptionReview, "preinscriptions"),
			preinscriptionHandler.Review)
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authService))
	{
		enrollments.POST("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleStaff),
			middleware.Audit(userRepo, models.AuditActionEnrollmentCreate, "enrollments"),
			enrollmentHandler.Create)
		enrollments.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PUT("/:id/withdraw",
			middleware.Audit(userRepo, models.AuditActionEnrollmentWithdraw, "enrollments"),
			enrollmentHandler.Withdraw)
		enrollments.PUT("/:id/result",
			middleware.RequireRoles(models.RoleAdmin, models.RoleStaff),
			middleware.Audit(userRepo, models.AuditActionEnrollmentFinalResult, "enrollments"),
			enrollmentHandler.RecordResult)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
