package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/database"
	callHandler "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/handler/http/call"
	recordingHandler "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/handler/http/recording"
	wsHandler "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/handler/ws"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
	mediapion "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media/pion"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/middleware"
	peerpion "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer/pion"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/repository/cockroach"
	callService "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/call"
	recordingService "github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/recording"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/signaling"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/storage"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/config"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/env"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/jwt"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/push"
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

	// CockroachDB is best-effort: the call registry is in-memory, the
	// database only persists call history.
	db := connectDBWithRetry(ctx, cfg)
	var callStore callService.Store
	var tokenRepo push.TokenRepository
	if db != nil {
		defer db.Close()
		callStore = cockroach.NewCallRepository(db.Pool)
		tokenRepo = cockroach.NewPushTokenRepository(db.Pool)
	} else {
		logger.Log.Warn("running without call history persistence")
	}

	// Redis carries signaling fan-out between instances and is required.
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Log.Info("connected to redis", zap.String("host", cfg.Redis.Host))

	signalChannel := signaling.NewRedisChannel(redisClient)

	// Local device capture and the peer transport share one codec
	// selector so acquired tracks negotiate cleanly.
	source, err := mediapion.NewSource()
	if err != nil {
		logger.Log.Fatal("failed to initialize media source", zap.Error(err))
	}
	mediaManager := media.NewManager(source)

	peerFactory, err := peerpion.NewFactory(cfg.WebRTC, source.CodecSelector())
	if err != nil {
		logger.Log.Fatal("failed to initialize peer factory", zap.Error(err))
	}

	var ringer callService.Ringer
	if tokenRepo != nil {
		if r := buildRinger(ctx, tokenRepo); r != nil {
			ringer = r
		}
	}

	callSvc := callService.NewService(mediaManager, peerFactory, signalChannel, callStore, ringer, cfg.Call.RingTimeout)

	var recordingSink recordingService.Sink
	recordingStore, err := storage.NewRecordingStore(cfg.MinIO)
	if err != nil {
		logger.Log.Warn("recording storage unavailable", zap.Error(err))
	} else if err := recordingStore.EnsureBucket(ctx); err != nil {
		logger.Log.Warn("recording bucket check failed", zap.Error(err))
	} else {
		recordingSink = recordingStore
		logger.Log.Info("recording storage ready", zap.String("bucket", cfg.MinIO.Bucket))
	}

	recordingSvc := recordingService.NewService(callSvc, recordingSink)
	// Recordings must not outlive their call.
	callSvc.OnStateChange(recordingSvc.StopForCall)

	hub := wsHandler.NewHub(redisClient)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		}
		if db != nil {
			if err := db.HealthCheck(c.Request.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
			}
		}
		c.JSON(http.StatusOK, status)
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(jwtManager))
	{
		callHandler.NewHandler(callSvc).RegisterRoutes(v1)
		recordingHandler.NewHandler(recordingSvc).RegisterRoutes(v1)
		v1.GET("/ws", hub.ServeWS)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Log.Info("call service starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
}

// connectDBWithRetry attempts the CockroachDB connection with exponential
// backoff and returns nil when every attempt fails.
func connectDBWithRetry(ctx context.Context, cfg *config.Config) *database.DB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err := database.NewDB(ctx, cfg.Database)
		if err == nil {
			logger.Log.Info("connected to cockroachdb",
				zap.String("host", cfg.Database.Host),
				zap.Int("attempt", attempt))
			return db
		}
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Log.Warn("cockroachdb connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if attempt < maxRetries {
			time.Sleep(delay)
		}
	}
	return nil
}

// buildRinger wires push providers from the environment. Returns nil when
// no provider is configured, in which case calls still ring over signaling.
func buildRinger(ctx context.Context, repo push.TokenRepository) *push.Ringer {
	ringer := push.NewRinger(repo)
	registered := false

	if credsPath := env.GetString("FCM_CREDENTIALS_PATH", ""); credsPath != "" {
		fcm, err := push.NewFCMProvider(ctx, &push.FCMConfig{
			CredentialsPath: credsPath,
			ProjectID:       env.GetString("FCM_PROJECT_ID", ""),
		})
		if err != nil {
			logger.Log.Warn("fcm provider unavailable", zap.Error(err))
		} else {
			ringer.Register(push.TokenTypeFCM, fcm)
			registered = true
			logger.Log.Info("fcm push provider registered")
		}
	}

	if keyPath := env.GetString("APNS_KEY_PATH", ""); keyPath != "" {
		apns, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    keyPath,
			KeyID:      env.GetString("APNS_KEY_ID", ""),
			TeamID:     env.GetString("APNS_TEAM_ID", ""),
			BundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			Production: env.GetString("ENV", "development") == "production",
		})
		if err != nil {
			logger.Log.Warn("apns provider unavailable", zap.Error(err))
		} else {
			ringer.Register(push.TokenTypeAPNs, apns)
			registered = true
			logger.Log.Info("apns push provider registered")
		}
	}

	if !registered {
		return nil
	}
	return ringer
}
