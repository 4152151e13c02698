// Package composite fans every write out to several Store backends. Reads
// are answered by the first backend, which is treated as the primary.
package composite

import (
	"context"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

type Store struct {
	stores []port.Store
}

var _ port.Store = (*Store)(nil)

func NewStore(stores ...port.Store) *Store {
	// nil backends are skipped
	out := make([]port.Store, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Store{stores: out}
}

func (c *Store) SaveConnection(ctx context.Context, conn domain.BrokerConnection) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.SaveConnection(ctx, conn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Store) GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error) {
	if len(c.stores) == 0 {
		return nil, nil
	}
	return c.stores[0].GetConnection(ctx, id)
}

func (c *Store) ListConnections(ctx context.Context) ([]domain.BrokerConnection, error) {
	if len(c.stores) == 0 {
		return nil, nil
	}
	return c.stores[0].ListConnections(ctx)
}

func (c *Store) DeleteConnection(ctx context.Context, id string) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.DeleteConnection(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Store) UpsertLastTick(ctx context.Context, tick domain.LastTick) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.UpsertLastTick(ctx, tick); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Store) GetLastTick(ctx context.Context, venue, symbol string) (*domain.LastTick, error) {
	if len(c.stores) == 0 {
		return nil, nil
	}
	return c.stores[0].GetLastTick(ctx, venue, symbol)
}

func (c *Store) ListLastTicks(ctx context.Context) ([]domain.LastTick, error) {
	if len(c.stores) == 0 {
		return nil, nil
	}
	return c.stores[0].ListLastTicks(ctx)
}

func (c *Store) Close() error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
