package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerhub/internal/application/aggregator"
	"brokerhub/internal/application/usecase/watch"
	"brokerhub/internal/infrastructure/config"
	"brokerhub/internal/infrastructure/logger"
	"brokerhub/internal/infrastructure/svc"

	"github.com/rs/zerolog/log"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer func() { _ = sc.Close() }()

	// connect enabled venues; a single venue failure must not kill startup
	hub := sc.GetHub()
	connected := 0
	for _, req := range sc.ConnectRequests() {
		if hub.ConnectBroker(ctx, req) {
			connected++
		} else {
			log.Warn().Str("broker", req.ID).Msg("broker connection failed, continuing without it")
		}
	}
	if connected == 0 {
		log.Error().Err(svc.ErrNoBrokersConnected).Msg("startup aborted")
		return
	}

	// order status sync loop
	go runOrderSync(ctx, hub, time.Duration(cfg.App.OrderSyncSec)*time.Second)

	watchSvc := watch.NewService(sc.BuildWatchDeps())

	log.Info().
		Str("config", *configPath).
		Int("brokers", connected).
		Int("print_every_min", cfg.App.PrintEveryMin).
		Int("order_sync_sec", cfg.App.OrderSyncSec).
		Msg("brokerhub started")

	if err := watchSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("watch service exited")
	}
}

// runOrderSync 周期性拉取各券商订单状态，驱动 order_update 事件
func runOrderSync(ctx context.Context, hub *aggregator.Hub, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range hub.Connections() {
				if !conn.Connected {
					continue
				}
				hub.SyncOrders(ctx, conn.ID)
			}
		}
	}
}
