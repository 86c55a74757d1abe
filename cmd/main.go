package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/api"
	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/pkg/gateway"
	"github.com/Gopher0727/Strangers/internal/pkg/kafka"
	"github.com/Gopher0727/Strangers/internal/pkg/redis"
	"github.com/Gopher0727/Strangers/internal/session"
	"github.com/Gopher0727/Strangers/internal/social"
	"github.com/Gopher0727/Strangers/middleware/jwt"
	logger "github.com/Gopher0727/Strangers/middleware/log"
	"github.com/Gopher0727/Strangers/utils/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (toml, yaml or json)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()
	zl := appLogger.Logger

	// Redis 只在拉黑名单或限流需要时连接
	var redisClient *redis.Client
	if cfg.Social.Backend == "redis" || cfg.RateLimit.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			zl.Fatal("redis 初始化失败", zap.Error(err))
		}
		defer redisClient.Close()
	}

	// Kafka 失败时降级为仅本地推送
	var sinks []events.Sink
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			zl.Warn("kafka producer unavailable, events stay local", zap.Error(err))
		} else {
			defer producer.Close()
			sinks = append(sinks, producer)
		}
	}
	bus := events.NewBus(cfg.Session.EventBuffer, zl, sinks...)
	defer bus.Close()

	var stores session.StoreFactory
	if cfg.Social.Backend == "redis" {
		stores = func(id string) social.BlockedStore {
			return social.NewRedisStore(redisClient, id, cfg.Session.IdleTTL)
		}
	}
	sessions := session.NewManager(session.ManagerOptions{
		Config:    cfg,
		Logger:    zl,
		Publisher: bus,
		Stores:    stores,
	})
	sessions.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connManager := gateway.NewConnectionManager(ctx, &cfg.Websocket, zl)
	feed, unsubscribe := bus.Subscribe(cfg.Session.EventBuffer)
	go connManager.Run(feed)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewWindowLimiter(redisClient.GetClient(), nil, zl, cfg.RateLimit.FailOpen)
	}

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Sessions: sessions,
		Tokens:   jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours),
		Stream:   gateway.NewStreamHandler(connManager, &cfg.Websocket, zl),
		Limiter:  limiter,
		Logger:   zl,
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}
	go func() {
		zl.Info(fmt.Sprintf("正在启动服务器，监听端口 :%d", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("启动服务器失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
	unsubscribe()
	connManager.Shutdown()
	if err := sessions.Close(shutdownCtx); err != nil {
		zl.Error("session shutdown", zap.Error(err))
	}
}
