package port

import (
	"context"

	"brokerhub/internal/domain"
)

// TickFunc receives normalized market-data ticks.
type TickFunc func(domain.MarketData)

// SubscriptionID identifies one registered market-data listener.
type SubscriptionID int

// Broker is the uniform contract every venue adapter implements. Calling any
// operation other than Connect before a successful Connect fails with
// ErrNotConnected.
type Broker interface {
	Name() string
	VenueType() domain.VenueType

	// Connect performs the venue auth handshake and resolves the internal
	// account identifier.
	Connect(ctx context.Context) error

	// GetBalance returns a full normalized balance or an error, never a
	// partial record.
	GetBalance(ctx context.Context) (domain.AccountBalance, error)

	// GetPositions returns current holdings, excluding zero-quantity rows
	// and cash-equivalent assets.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// PlaceOrder validates, translates and submits the order, returning the
	// venue order id as an opaque string. Idempotency is not guaranteed.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// GetOrderHistory returns a venue-bounded page of recent orders with
	// statuses mapped through the venue's fixed table.
	GetOrderHistory(ctx context.Context) ([]domain.OrderRecord, error)

	// SubscribeMarketData registers fn for the symbol, lazily starting the
	// underlying stream or polling channel.
	SubscribeMarketData(symbol string, fn TickFunc) (SubscriptionID, error)

	// Unsubscribe detaches a single listener; the channel is torn down when
	// the last one goes.
	Unsubscribe(symbol string, id SubscriptionID)

	// UnsubscribeMarketData drops every listener for the symbol and tears
	// the channel down.
	UnsubscribeMarketData(symbol string)

	// Close releases all transport resources owned by the adapter.
	Close() error
}
