package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lv-margin/internal/auth"
	"lv-margin/internal/config"
	"lv-margin/internal/db"
	"lv-margin/internal/engine"
	"lv-margin/internal/httpserver"
	"lv-margin/internal/ledger"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"
	"lv-margin/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, quote mirror disabled", zap.Error(err))
			rdb = nil
		}
	}

	st := store.NewPostgres(pool)
	bus := marketdata.NewBus()
	quotes := marketdata.NewQuotes(rdb, logger)

	ledgerSvc := ledger.NewService(st, logger)
	positionMgr := positions.NewManager(st, ledgerSvc, quotes, bus, logger, cfg.MarginAsset)
	orderSvc := orders.NewService(st, ledgerSvc, positionMgr, bus, logger, cfg.MarginAsset)
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	coordinator := engine.New(st, orderSvc, positionMgr, bus, logger)
	go coordinator.Run(ctx)

	feed := marketdata.NewFeed(cfg.FeedURL, bus, quotes, logger)
	go feed.Run(ctx)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:     auth.NewHandler(authSvc),
		LedgerHandler:   ledger.NewHandler(ledgerSvc, cfg.MarginAsset),
		PositionHandler: positions.NewHandler(positionMgr),
		OrderHandler:    orders.NewHandler(orderSvc),
		MarketHandler:   marketdata.NewHandler(quotes),
		AuthService:     authSvc,
		EventsWS:        httpserver.NewEventsWS(bus, cfg.WSOrigin),
		InternalToken:   cfg.InternalToken,
		AllowedOrigin:   cfg.WSOrigin,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
