// Package redis keeps aggregator state in Redis hashes and publishes every
// tick write to a pub/sub channel for downstream consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

type Store struct {
	rdb      *redis.Client
	ttl      time.Duration
	keyConns string // prefix + ":connections"
	keyTicks string // prefix + ":ticks"
	tickChan string // prefix + ":ticks:pub"
}

var _ port.Store = (*Store)(nil)

func NewStore(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "brokerhub"
	}
	return &Store{
		rdb:      rdb,
		ttl:      ttl,
		keyConns: prefix + ":connections",
		keyTicks: prefix + ":ticks",
		tickChan: prefix + ":ticks:pub",
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) SaveConnection(ctx context.Context, conn domain.BrokerConnection) error {
	b, err := json.Marshal(conn)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.keyConns, conn.ID, string(b))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keyConns, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error) {
	raw, err := s.rdb.HGet(ctx, s.keyConns, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var conn domain.BrokerConnection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *Store) ListConnections(ctx context.Context) ([]domain.BrokerConnection, error) {
	fields, err := s.rdb.HGetAll(ctx, s.keyConns).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.BrokerConnection, 0, len(fields))
	for _, raw := range fields {
		var conn domain.BrokerConnection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	return s.rdb.HDel(ctx, s.keyConns, id).Err()
}

func (s *Store) UpsertLastTick(ctx context.Context, tick domain.LastTick) error {
	if tick.Price <= 0 {
		return nil
	}
	b, err := json.Marshal(tick)
	if err != nil {
		return err
	}

	// Hash: field = "binance:BTCUSDT" -> json
	field := fmt.Sprintf("%s:%s", tick.Venue, tick.Symbol)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.keyTicks, field, string(b))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keyTicks, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// PubSub: PUBLISH <channel> json，供看盘进程实时消费
	return s.rdb.Publish(ctx, s.tickChan, string(b)).Err()
}

func (s *Store) GetLastTick(ctx context.Context, venue, symbol string) (*domain.LastTick, error) {
	raw, err := s.rdb.HGet(ctx, s.keyTicks, fmt.Sprintf("%s:%s", venue, symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tick domain.LastTick
	if err := json.Unmarshal([]byte(raw), &tick); err != nil {
		return nil, err
	}
	return &tick, nil
}

func (s *Store) ListLastTicks(ctx context.Context) ([]domain.LastTick, error) {
	fields, err := s.rdb.HGetAll(ctx, s.keyTicks).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.LastTick, 0, len(fields))
	for _, raw := range fields {
		var tick domain.LastTick
		if err := json.Unmarshal([]byte(raw), &tick); err != nil {
			return nil, err
		}
		out = append(out, tick)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}
