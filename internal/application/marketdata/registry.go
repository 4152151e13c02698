package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

// OpenChannelFunc opens the underlying data channel for one symbol (a
// persistent stream read loop or a fixed-interval poll loop) and blocks
// until the channel fails or ctx is cancelled. Every received tick goes
// through emit.
type OpenChannelFunc func(ctx context.Context, symbol string, emit func(domain.MarketData)) error

// ErrClosed is returned by Subscribe after the registry has been closed.
var ErrClosed = errors.New("market data registry closed")

type subscriber struct {
	id port.SubscriptionID
	fn port.TickFunc
}

type channelState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry manages the symbol → callback fan-out and the lifecycle of each
// symbol's data channel for one adapter instance.
//
// Per symbol the state machine is Unsubscribed → Active → Unsubscribed: the
// first subscriber starts exactly one channel goroutine, later subscribers
// share it, and removing the last one cancels it immediately.
type Registry struct {
	venue  string
	open   OpenChannelFunc
	policy ReconnectPolicy

	mu     sync.Mutex
	subs   map[string][]subscriber // registration order preserved
	chans  map[string]*channelState
	nextID port.SubscriptionID
	closed bool
}

func NewRegistry(venue string, open OpenChannelFunc, policy ReconnectPolicy) *Registry {
	return &Registry{
		venue:  venue,
		open:   open,
		policy: policy,
		subs:   make(map[string][]subscriber),
		chans:  make(map[string]*channelState),
	}
}

// Subscribe registers fn for the symbol. The first subscription for a symbol
// starts its data channel.
func (r *Registry) Subscribe(symbol string, fn port.TickFunc) (port.SubscriptionID, error) {
	if fn == nil {
		return 0, errors.New("nil tick callback")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	r.nextID++
	id := r.nextID
	r.subs[symbol] = append(r.subs[symbol], subscriber{id: id, fn: fn})

	if len(r.subs[symbol]) == 1 {
		r.startChannelLocked(symbol)
	}
	return id, nil
}

// Unsubscribe detaches one listener. Removing the last listener for the
// symbol tears its channel down with no grace period.
func (r *Registry) Unsubscribe(symbol string, id port.SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[symbol]
	if len(list) == 0 {
		return
	}
	kept := list[:0]
	for _, s := range list {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		r.teardownLocked(symbol)
		return
	}
	r.subs[symbol] = kept
}

// UnsubscribeAll drops every listener for the symbol and tears its channel
// down.
func (r *Registry) UnsubscribeAll(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs[symbol]) == 0 {
		return
	}
	r.teardownLocked(symbol)
}

// Active reports whether the symbol currently has a running channel.
func (r *Registry) Active(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.chans[symbol]
	return ok
}

// ActiveSymbols returns the symbols with running channels.
func (r *Registry) ActiveSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.chans))
	for sym := range r.chans {
		out = append(out, sym)
	}
	return out
}

// Close tears down every channel and rejects further subscriptions.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for sym := range r.subs {
		r.teardownLocked(sym)
	}
}

func (r *Registry) startChannelLocked(symbol string) {
	ctx, cancel := context.WithCancel(context.Background())
	st := &channelState{cancel: cancel, done: make(chan struct{})}
	r.chans[symbol] = st
	go r.runChannel(ctx, symbol, st)
}

func (r *Registry) teardownLocked(symbol string) {
	if st := r.chans[symbol]; st != nil {
		st.cancel()
		delete(r.chans, symbol)
	}
	delete(r.subs, symbol)
}

// runChannel keeps the symbol's channel open while subscribers remain,
// reconnecting with bounded backoff when it fails.
func (r *Registry) runChannel(ctx context.Context, symbol string, st *channelState) {
	defer close(st.done)

	// 任意一条成功推送都会把退避计数清零
	var delivered atomic.Bool
	emit := func(md domain.MarketData) {
		delivered.Store(true)
		r.dispatch(symbol, md)
	}

	attempt := 0
	for {
		delivered.Store(false)
		err := r.open(ctx, symbol, emit)
		if ctx.Err() != nil {
			return
		}
		if delivered.Load() {
			attempt = 0
		}
		attempt++
		if r.policy.MaxAttempts > 0 && attempt > r.policy.MaxAttempts {
			log.Error().
				Str("venue", r.venue).
				Str("symbol", symbol).
				Int("attempts", attempt-1).
				Err(err).
				Msg("market data channel gave up, dropping subscribers")
			r.abandon(symbol, st)
			return
		}

		delay := r.policy.Delay(attempt)
		log.Warn().
			Str("venue", r.venue).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("market data channel lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// abandon clears the symbol after the reconnect policy is exhausted so its
// state reads Unsubscribed instead of silently dead.
func (r *Registry) abandon(symbol string, st *channelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chans[symbol] != st {
		return
	}
	delete(r.chans, symbol)
	delete(r.subs, symbol)
}

// dispatch fans one tick out to the symbol's callbacks in registration
// order, synchronously.
func (r *Registry) dispatch(symbol string, md domain.MarketData) {
	if md.Symbol == "" {
		md.Symbol = symbol
	}
	if md.Timestamp.IsZero() {
		md.Timestamp = time.Now()
	}

	// 在扇出前的最后一刻再取订阅者快照；退订后在途的 tick 到这里会拿到
	// 空列表，不会再打到已移除的回调上
	r.mu.Lock()
	list := r.subs[symbol]
	fns := make([]port.TickFunc, len(list))
	for i, s := range list {
		fns[i] = s.fn
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(md)
	}
}
