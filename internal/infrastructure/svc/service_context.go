package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/aggregator"
	"brokerhub/internal/application/port"
	"brokerhub/internal/application/usecase/watch"
	"brokerhub/internal/domain"
	"brokerhub/internal/infrastructure/config"
	"brokerhub/internal/infrastructure/storage"
	compositestore "brokerhub/internal/infrastructure/storage/composite"
	postgresstore "brokerhub/internal/infrastructure/storage/postgres"
	redisstore "brokerhub/internal/infrastructure/storage/redis"
	sqlitestore "brokerhub/internal/infrastructure/storage/sqlite"
	"brokerhub/internal/infrastructure/venue"
	"brokerhub/internal/infrastructure/venue/binance"
	"brokerhub/internal/infrastructure/venue/etrade"
	"brokerhub/internal/infrastructure/venue/tradovate"
	"brokerhub/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	redisClient *redisclient.Client
	backends    []port.Store
	store       port.Store

	// 输出端口
	Sink port.Sink

	// 应用业务组件（依赖基础设施）
	registry *venue.Registry
	hub      *aggregator.Hub

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化所有组件
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层（最基础，后续组件都依赖它）
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// 1. 适配器工厂注册表，装配时显式注册三类券商
	sc.registry = venue.NewRegistry()
	sc.registry.Register(domain.VenueCrypto, binance.Factory)
	sc.registry.Register(domain.VenueFutures, tradovate.Factory)
	sc.registry.Register(domain.VenueStocks, etrade.Factory)

	// 2. 聚合 Hub
	sc.hub = aggregator.NewHub(sc.registry, sc.store)

	reqs := sc.ConnectRequests()
	if len(reqs) == 0 {
		return ErrNoVenuesEnabled
	}
	log.Info().
		Int("venues", len(reqs)).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化启用的存储后端并聚合为单一 Store
// sqlite 在前，composite 的读路径落在持久后端上
func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.Storage.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
	}
	if sc.Config.Storage.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
	}
	if sc.Config.Storage.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	switch len(sc.backends) {
	case 0:
		log.Warn().Msg("no storage backend enabled, connection metadata will not survive restarts")
		sc.store = storage.Noop{}
	case 1:
		sc.store = sc.backends[0]
	default:
		sc.store = compositestore.NewStore(sc.backends...)
	}
	return nil
}

// initSQLite 初始化 SQLite 存储
func (sc *ServiceContext) initSQLite() error {
	st, err := sqlitestore.NewStore(sc.Config.Storage.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite store creation failed: %w", err)
	}
	sc.backends = append(sc.backends, st)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite store")
		return st.Close()
	})

	log.Info().
		Str("path", sc.Config.Storage.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

// initPostgres 初始化 Postgres 存储
func (sc *ServiceContext) initPostgres() error {
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	st, err := postgresstore.NewStore(ctx, sc.Config.Storage.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres store creation failed: %w", err)
	}
	sc.backends = append(sc.backends, st)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres store")
		return st.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rcfg := sc.Config.Storage.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	ttl := time.Duration(rcfg.TTLSeconds) * time.Second
	st := redisstore.NewStore(rdb, rcfg.Prefix, ttl)
	sc.backends = append(sc.backends, st)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return st.Close()
	})

	log.Info().
		Str("addr", rcfg.Addr).
		Int("db", rcfg.DB).
		Msg("✓ Redis initialized")
	return nil
}

// GetHub 获取聚合 Hub
func (sc *ServiceContext) GetHub() *aggregator.Hub {
	return sc.hub
}

// GetStore 获取聚合后的存储
func (sc *ServiceContext) GetStore() port.Store {
	return sc.store
}

// GetRegistry 获取适配器工厂注册表
func (sc *ServiceContext) GetRegistry() *venue.Registry {
	return sc.registry
}

// ConnectRequests 把配置里 enabled 的券商展开为连接请求
// 凭据只进入请求结构，随适配器存活，不落存储
func (sc *ServiceContext) ConnectRequests() []aggregator.ConnectRequest {
	var reqs []aggregator.ConnectRequest

	if v := sc.Config.Venues.Binance; v.Enabled {
		reqs = append(reqs, aggregator.ConnectRequest{
			ID:   "binance",
			Name: v.Name,
			Type: domain.VenueCrypto,
			Credentials: venue.Credentials{
				APIKey:    v.APIKey,
				APISecret: v.APISecret,
			},
			Settings: venueSettings(v),
		})
	}
	if v := sc.Config.Venues.Tradovate; v.Enabled {
		reqs = append(reqs, aggregator.ConnectRequest{
			ID:   "tradovate",
			Name: v.Name,
			Type: domain.VenueFutures,
			Credentials: venue.Credentials{
				Username:     v.Username,
				Password:     v.Password,
				AppID:        v.AppID,
				AppVersion:   v.AppVersion,
				DeviceID:     v.DeviceID,
				ClientID:     v.ClientID,
				ClientSecret: v.ClientSecret,
			},
			Settings: venueSettings(v),
		})
	}
	if v := sc.Config.Venues.Etrade; v.Enabled {
		reqs = append(reqs, aggregator.ConnectRequest{
			ID:   "etrade",
			Name: v.Name,
			Type: domain.VenueStocks,
			Credentials: venue.Credentials{
				ConsumerKey:      v.ConsumerKey,
				ConsumerSecret:   v.ConsumerSecret,
				OAuthToken:       v.OAuthToken,
				OAuthTokenSecret: v.OAuthTokenSecret,
			},
			Settings: venueSettings(v),
		})
	}
	return reqs
}

// BuildWatchDeps 构建看盘服务所需的所有依赖
// 由 cmd 层在券商连接完成后调用
func (sc *ServiceContext) BuildWatchDeps() watch.ServiceDeps {
	var feeds []watch.Feed
	for _, req := range sc.ConnectRequests() {
		if len(req.Settings.Symbols) == 0 {
			continue
		}
		feeds = append(feeds, watch.Feed{
			BrokerID: req.ID,
			Symbols:  req.Settings.Symbols,
		})
	}

	return watch.ServiceDeps{
		Hub:        sc.hub,
		Feeds:      feeds,
		Sink:       sc.Sink,
		Store:      sc.store,
		PrintEvery: time.Duration(sc.Config.App.PrintEveryMin) * time.Minute,
	}
}

// Close 先断开所有券商，再按初始化的相反顺序关闭资源
// 应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	if sc.hub != nil {
		if err := sc.hub.Close(); err != nil {
			log.Error().Err(err).Msg("error closing hub")
		}
	}

	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}

func venueSettings(v config.VenueConfig) venue.Settings {
	return venue.Settings{
		HTTPURL:      v.HTTPURL,
		WSURL:        v.WSURL,
		PollInterval: time.Duration(v.PollIntervalSec) * time.Second,
		Symbols:      v.Symbols,
	}
}
