package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/domain"
)

// FetchFunc grabs one quote for one symbol.
type FetchFunc func(ctx context.Context, symbol string) (domain.MarketData, error)

// PollOpener adapts a quote fetch into an OpenChannelFunc that polls at a
// fixed interval, for venues without a push stream. The first fetch happens
// immediately. A failed poll is logged and skipped; it never ends the
// channel, so polling venues only stop on teardown.
func PollOpener(venue string, interval time.Duration, fetch FetchFunc) OpenChannelFunc {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			md, err := fetch(ctx, symbol)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				log.Warn().Str("venue", venue).Str("symbol", symbol).Err(err).Msg("quote poll failed")
			default:
				emit(md)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
