package etrade

import (
	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

// Factory builds an E*TRADE adapter for registration under
// domain.VenueStocks.
func Factory(cfg venue.Config) (port.Broker, error) {
	return NewAdapter(cfg), nil
}
