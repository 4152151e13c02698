package config

import (
	"errors"
	"strings"

	"github.com/BurntSushi/toml"
)

// VenueConfig 是三种认证方式共用的配置超集，每个适配器只读自己那组字段。
// URL 留空时使用适配器内置的生产端点。
type VenueConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`

	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`

	Username     string `toml:"username"`
	Password     string `toml:"password"`
	AppID        string `toml:"app_id"`
	AppVersion   string `toml:"app_version"`
	DeviceID     string `toml:"device_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`

	ConsumerKey      string `toml:"consumer_key"`
	ConsumerSecret   string `toml:"consumer_secret"`
	OAuthToken       string `toml:"oauth_token"`
	OAuthTokenSecret string `toml:"oauth_token_secret"`

	HTTPURL         string   `toml:"http_url"`
	WSURL           string   `toml:"ws_url"`
	PollIntervalSec int      `toml:"poll_interval_sec"`
	Symbols         []string `toml:"symbols"`
}

type Config struct {
	App struct {
		PrintEveryMin int `toml:"print_every_min"`
		OrderSyncSec  int `toml:"order_sync_sec"`
	} `toml:"app"`

	Storage struct {
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled    bool   `toml:"enabled"`
			Addr       string `toml:"addr"`
			Password   string `toml:"password"`
			DB         int    `toml:"db"`
			Prefix     string `toml:"prefix"`
			TTLSeconds int    `toml:"ttl_seconds"`
		} `toml:"redis"`
	} `toml:"storage"`

	Venues struct {
		Binance   VenueConfig `toml:"binance"`
		Tradovate VenueConfig `toml:"tradovate"`
		Etrade    VenueConfig `toml:"etrade"`
	} `toml:"venues"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.App.OrderSyncSec <= 0 {
		cfg.App.OrderSyncSec = 30
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/brokerhub.db"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "brokerhub"
	}
	if cfg.Venues.Binance.Name == "" {
		cfg.Venues.Binance.Name = "binance"
	}
	if cfg.Venues.Tradovate.Name == "" {
		cfg.Venues.Tradovate.Name = "tradovate"
	}
	if cfg.Venues.Etrade.Name == "" {
		cfg.Venues.Etrade.Name = "etrade"
	}
}

func validate(cfg *Config) error {
	cfg.Venues.Binance.Symbols = normalizeSymbols(cfg.Venues.Binance.Symbols)
	cfg.Venues.Tradovate.Symbols = normalizeSymbols(cfg.Venues.Tradovate.Symbols)
	cfg.Venues.Etrade.Symbols = normalizeSymbols(cfg.Venues.Etrade.Symbols)

	if b := cfg.Venues.Binance; b.Enabled {
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return errors.New("venues.binance.api_key/api_secret empty but enabled")
		}
		if len(b.Symbols) == 0 {
			return errors.New("venues.binance.symbols is empty")
		}
	}
	if t := cfg.Venues.Tradovate; t.Enabled {
		if strings.TrimSpace(t.Username) == "" || strings.TrimSpace(t.Password) == "" {
			return errors.New("venues.tradovate.username/password empty but enabled")
		}
	}
	if e := cfg.Venues.Etrade; e.Enabled {
		if strings.TrimSpace(e.ConsumerKey) == "" || strings.TrimSpace(e.ConsumerSecret) == "" ||
			strings.TrimSpace(e.OAuthToken) == "" || strings.TrimSpace(e.OAuthTokenSecret) == "" {
			return errors.New("venues.etrade oauth credentials incomplete but enabled")
		}
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
