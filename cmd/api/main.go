package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/config"
	"realtime-chat/internal/db"
	apihttp "realtime-chat/internal/http"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/repository"
	"realtime-chat/internal/service"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	userRepo := repository.NewPgUserRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)

	var (
		tokenStore   service.RefreshTokenStore
		registryOpts []presence.Option
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			mirror := presence.NewRedisMirror(redisClient, uuid.NewString(), time.Duration(cfg.PresenceTTLSeconds)*time.Second)
			registryOpts = append(registryOpts, presence.WithMirror(mirror))
		}
		cancel()
	}
	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if !jwtSvc.Enabled() {
		logger.Warn("jwt secret not configured, websocket and history are unauthenticated")
	}

	sanitizer, err := service.NewSanitizer(cfg.MessageMaxLength, cfg.BlockedWords)
	if err != nil {
		logger.Fatal("sanitizer init", zap.Error(err))
	}

	registry := presence.NewRegistry(logger, registryOpts...)
	engine := service.NewDeliveryEngine(logger, messageRepo, registry, sanitizer)
	dispatcher := chat.NewDispatcher(logger, registry, engine, chat.Options{
		SendQueue:  cfg.WSSendQueue,
		PingPeriod: time.Duration(cfg.WSPingSeconds) * time.Second,
	})

	identity := service.NewGoogleVerifier(cfg.GoogleTokenInfoURL, cfg.GoogleClientID, logger)
	userSvc := service.NewUserService(logger, userRepo, identity)
	historySvc := service.NewHistoryService(messageRepo)

	authHandler := apihttp.NewAuthHandler(logger, userSvc, jwtSvc, registry)
	chatHandler := apihttp.NewChatHandler(logger, userSvc, historySvc, dispatcher, cfg.AllowedOrigins)
	presenceHandler := apihttp.NewPresenceHandler(registry)
	router := apihttp.NewRouter(logger, jwtSvc, cfg.AllowedOrigins, pool, authHandler, chatHandler, presenceHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if n := registry.Shutdown(); n > 0 {
			logger.Info("closed chat sessions", zap.Int("count", n))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
