package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"parking_ledger/internal/api"
	"parking_ledger/internal/api/handler"
	"parking_ledger/internal/config"
	"parking_ledger/internal/lock"
	"parking_ledger/internal/logging"
	"parking_ledger/internal/repository"
	"parking_ledger/internal/repository/memory"
	"parking_ledger/internal/repository/postgresql"
	"parking_ledger/internal/repository/sqlite"
	"parking_ledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Storage
	sessionRepo, closeStorage, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatal("open storage", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer closeStorage()

	// 3. Plate locks, shared through Redis when several instances run
	var locker lock.Locker = lock.NewLocalLocker().WithWait(cfg.LockWait)
	if cfg.RedisAddr != "" {
		rdb, err := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait, logger)
		logger.Info("using redis plate locks", zap.String("addr", cfg.RedisAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 4. WebSocket hub
	wsManager := handler.NewWebSocketManager(logger)
	g.Go(func() error {
		wsManager.Start(gctx)
		return nil
	})

	// 5. Services
	parkingService := service.NewParkingService(sessionRepo, cfg.Tariff, locker, wsManager, cfg.Location, logger)

	// 6. HTTP server
	router := api.SetupRouter(parkingService, wsManager, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("driver", cfg.DBDriver),
			zap.String("timezone", cfg.Timezone),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	// Graceful shutdown on signal or when the server fails
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func openStorage(cfg *config.Config, logger *zap.Logger) (repository.ParkingSessionRepository, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgresql.NewDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := postgresql.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		return postgresql.NewPgParkingSessionRepository(db), closer(db, logger), nil

	case config.DriverSQLite:
		gdb, err := sqlite.Open(cfg.SQLitePath, cfg.LogLevel == "debug")
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite database", zap.String("path", cfg.SQLitePath))
		return sqlite.NewGormParkingSessionRepository(gdb), closer(sqlDB, logger), nil

	case config.DriverMemory:
		logger.Warn("using in-memory storage, sessions are lost on restart")
		return memory.NewParkingSessionRepository(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

func closer(db *sql.DB, logger *zap.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}
}
