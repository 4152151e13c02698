package marketdata

import "time"

// ReconnectPolicy bounds the automatic reconnection of a market-data
// channel. Delays double per consecutive failure up to Max; after
// MaxAttempts consecutive failures the registry gives up on the symbol.
type ReconnectPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy mirrors the venue stream defaults: 500ms doubling
// to a 10s ceiling, ten attempts before giving up.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff before the given attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
