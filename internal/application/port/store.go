package port

import (
	"context"

	"brokerhub/internal/domain"
)

// Store persists the aggregator's secret-free state: connection records and
// the last observed tick per venue+symbol.
type Store interface {
	// Connection records
	SaveConnection(ctx context.Context, conn domain.BrokerConnection) error
	GetConnection(ctx context.Context, id string) (*domain.BrokerConnection, error)
	ListConnections(ctx context.Context) ([]domain.BrokerConnection, error)
	DeleteConnection(ctx context.Context, id string) error

	// Last-tick cache
	UpsertLastTick(ctx context.Context, tick domain.LastTick) error
	GetLastTick(ctx context.Context, venue, symbol string) (*domain.LastTick, error)
	ListLastTicks(ctx context.Context) ([]domain.LastTick, error)

	Close() error
}
