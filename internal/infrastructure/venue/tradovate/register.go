package tradovate

import (
	"brokerhub/internal/application/port"
	"brokerhub/internal/infrastructure/venue"
)

// Factory builds a Tradovate adapter for registration under
// domain.VenueFutures.
func Factory(cfg venue.Config) (port.Broker, error) {
	return NewAdapter(cfg), nil
}
