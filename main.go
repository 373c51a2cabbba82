package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatpresence/internal/broadcast"
	"chatpresence/internal/config"
	"chatpresence/internal/coordinator"
	"chatpresence/internal/database/db_client"
	"chatpresence/internal/http/http_server"
	"chatpresence/internal/presence"
	"chatpresence/internal/redis/redis_client"
	"chatpresence/internal/registry"
	"chatpresence/internal/services/history"
	"chatpresence/internal/synchistory"
	"chatpresence/internal/syncpresence"
	"chatpresence/internal/ws"

	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort,
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Presence core: registry + membership index + broadcaster
	reg := registry.New()
	idx := presence.NewIndex()
	bc := broadcast.New(reg, idx)

	// 6. Chat-history sink (Redis stream ➜ Postgres persister)
	historySvc := history.NewHistoryService(redisClient, pgDb)
	synchistory.Run(ctx, redisClient, pgDb)

	// 7. Background: 10 s presence snapshot mirror
	syncpresence.Run(ctx, redisClient, idx)

	// 8. Cross-instance chat fan-out + presence coordinator
	relay := ws.NewChatRelay(redisClient, bc)
	coord := coordinator.New(reg, idx, bc, historySvc, relay)

	// 9. WS server
	wsSrv := ws.NewWsServer(coord, time.Duration(cfg.HeartbeatTimeoutSec)*time.Second)

	// 10. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, idx, historySvc)
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
