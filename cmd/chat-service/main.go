package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/database"
	chatHandler "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/handler/http/chat"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/middleware"
	cassandraRepo "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/repository/cassandra"
	chatService "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/chat"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/config"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/jwt"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Cassandra archives the message log. The in-memory room state is
	// authoritative for ordering, so the archive is best-effort.
	var archive chatService.Archive
	cassandraDB, err := database.NewCassandraDB(cfg.Cassandra)
	if err != nil {
		logger.Log.Warn("running without message archive", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		archive = cassandraRepo.NewMessageRepository(cassandraDB.Session)
		logger.Log.Info("connected to cassandra", zap.Strings("hosts", cfg.Cassandra.Hosts))
	}

	// Redis fans new messages out to subscribed room channels.
	var notifier chatService.Notifier
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Warn("running without message fan-out", zap.Error(err))
	} else {
		defer redisClient.Close()
		notifier = chatService.NewRedisNotifier(redisClient)
		logger.Log.Info("connected to redis", zap.String("host", cfg.Redis.Host))
	}

	chatSvc := chatService.NewService(archive, notifier)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(jwtManager))
	chatHandler.NewHandler(chatSvc).RegisterRoutes(v1)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Log.Info("chat service starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down chat service")
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
}
