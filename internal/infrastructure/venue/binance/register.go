package binance

import (
	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

// Factory builds a Binance adapter. The assembly registers it under
// domain.VenueCrypto in an explicitly constructed venue.Registry.
func Factory(cfg venue.Config) (port.Broker, error) {
	return NewAdapter(cfg), nil
}
