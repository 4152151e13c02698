// Package storage holds the Store implementations that need no external
// service: a no-op sink and an in-memory store for tests and examples.
// Real backends live in the sqlite, postgres, redis and composite
// subpackages.
package storage

import (
	"context"
	"sort"
	"sync"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

// Noop discards every write and answers every read with nothing. Used when
// persistence is disabled in config.
type Noop struct{}

var _ port.Store = Noop{}

func (Noop) SaveConnection(context.Context, domain.BrokerConnection) error { return nil }

func (Noop) GetConnection(context.Context, string) (*domain.BrokerConnection, error) {
	return nil, nil
}

func (Noop) ListConnections(context.Context) ([]domain.BrokerConnection, error) { return nil, nil }

func (Noop) DeleteConnection(context.Context, string) error { return nil }

func (Noop) UpsertLastTick(context.Context, domain.LastTick) error { return nil }

func (Noop) GetLastTick(context.Context, string, string) (*domain.LastTick, error) {
	return nil, nil
}

func (Noop) ListLastTicks(context.Context) ([]domain.LastTick, error) { return nil, nil }

func (Noop) Close() error { return nil }

type tickKey struct {
	venue, symbol string
}

// Memory is a map-backed Store. Reads return copies; a missing record is
// (nil, nil), matching the persistent backends.
type Memory struct {
	mu    sync.RWMutex
	conns map[string]domain.BrokerConnection
	ticks map[tickKey]domain.LastTick
}

var _ port.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		conns: make(map[string]domain.BrokerConnection),
		ticks: make(map[tickKey]domain.LastTick),
	}
}

func (m *Memory) SaveConnection(_ context.Context, conn domain.BrokerConnection) error {
	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetConnection(_ context.Context, id string) (*domain.BrokerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (m *Memory) ListConnections(_ context.Context) ([]domain.BrokerConnection, error) {
	m.mu.RLock()
	out := make([]domain.BrokerConnection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpsertLastTick(_ context.Context, tick domain.LastTick) error {
	m.mu.Lock()
	m.ticks[tickKey{tick.Venue, tick.Symbol}] = tick
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetLastTick(_ context.Context, venue, symbol string) (*domain.LastTick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tick, ok := m.ticks[tickKey{venue, symbol}]
	if !ok {
		return nil, nil
	}
	return &tick, nil
}

func (m *Memory) ListLastTicks(_ context.Context) ([]domain.LastTick, error) {
	m.mu.RLock()
	out := make([]domain.LastTick, 0, len(m.ticks))
	for _, t := range m.ticks {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }
