package watch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/aggregator"
	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

// Feed names one connected broker and the symbols to watch on it.
type Feed struct {
	BrokerID string
	Symbols  []string
}

type ServiceDeps struct {
	Hub        *aggregator.Hub
	Feeds      []Feed
	Sink       port.Sink
	Store      port.Store
	PrintEvery time.Duration
}

type Service struct {
	deps ServiceDeps
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps, fmt: NewFormatter()}
}

type update struct {
	venue  string
	symbol string
	price  float64
	ts     time.Time
}

type subRef struct {
	broker port.Broker
	symbol string
	id     port.SubscriptionID
}

// Run subscribes every feed, then loops: grid redraw on change, snapshot
// line on the print ticker, last-tick upsert per applied tick. Returns when
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Feeds) == 0 {
		return errors.New("no feeds")
	}

	merged := make(chan update, 1024)

	var (
		subs    []subRef
		venues  []string
		symbols []string
	)
	defer func() {
		for _, ref := range subs {
			ref.broker.Unsubscribe(ref.symbol, ref.id)
		}
	}()

	for _, feed := range s.deps.Feeds {
		adapter, ok := s.deps.Hub.Broker(feed.BrokerID)
		if !ok {
			log.Warn().Str("id", feed.BrokerID).Msg("feed skipped, broker not connected")
			continue
		}
		venue := adapter.Name()
		venues = append(venues, venue)

		for _, sym := range feed.Symbols {
			symbol := sym
			id, err := adapter.SubscribeMarketData(symbol, func(md domain.MarketData) {
				// 慢消费时丢帧，看盘可以容忍
				select {
				case merged <- update{venue: venue, symbol: md.Symbol, price: md.Price, ts: md.Timestamp}:
				default:
				}
			})
			if err != nil {
				log.Warn().Err(err).Str("venue", venue).Str("symbol", symbol).Msg("subscribe failed")
				continue
			}
			subs = append(subs, subRef{broker: adapter, symbol: symbol, id: id})
			symbols = append(symbols, symbol)
		}

		log.Info().Str("venue", venue).Int("symbols", len(feed.Symbols)).Msg("feed started")
	}
	if len(subs) == 0 {
		return errors.New("no live subscriptions")
	}

	st := NewState(symbols, venues)

	every := s.deps.PrintEvery
	if every <= 0 {
		every = time.Minute
	}
	snapTicker := time.NewTicker(every)
	defer snapTicker.Stop()

	// initial live line
	_ = s.deps.Sink.WriteLive(s.fmt.Render(st, RenderLive))

	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case now := <-snapTicker.C:
			line := s.fmt.Render(st, RenderSnapshot)
			_ = s.deps.Sink.WriteSnapshot(now, line)

		case u := <-merged:
			if st.Apply(u.venue, u.symbol, u.price) {
				_ = s.deps.Sink.WriteLive(s.fmt.Render(st, RenderLive))
			}
			// best effort persistence of the freshest price
			_ = s.deps.Store.UpsertLastTick(ctx, domain.LastTick{
				Venue:  u.venue,
				Symbol: u.symbol,
				Price:  u.price,
				Ts:     u.ts,
			})
		}
	}
}
