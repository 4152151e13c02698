package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"brokerhub/internal/application/aggregator"
	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
	"brokerhub/internal/infrastructure/storage"
	"brokerhub/internal/infrastructure/venue"
)

type feedBroker struct {
	mu       sync.Mutex
	tickFn   port.TickFunc
	unsubbed int
}

func (f *feedBroker) Name() string { return "fake-venue" }

func (f *feedBroker) VenueType() domain.VenueType { return domain.VenueCrypto }

func (f *feedBroker) Connect(context.Context) error { return nil }

func (f *feedBroker) Close() error { return nil }

func (f *feedBroker) GetBalance(context.Context) (domain.AccountBalance, error) {
	return domain.AccountBalance{}, nil
}

func (f *feedBroker) GetPositions(context.Context) ([]domain.Position, error) { return nil, nil }

func (f *feedBroker) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", nil
}

func (f *feedBroker) GetOrderHistory(context.Context) ([]domain.OrderRecord, error) {
	return nil, nil
}

func (f *feedBroker) SubscribeMarketData(_ string, fn port.TickFunc) (port.SubscriptionID, error) {
	f.mu.Lock()
	f.tickFn = fn
	f.mu.Unlock()
	return 1, nil
}

func (f *feedBroker) Unsubscribe(string, port.SubscriptionID) {
	f.mu.Lock()
	f.unsubbed++
	f.mu.Unlock()
}

func (f *feedBroker) UnsubscribeMarketData(string) {}

func (f *feedBroker) push(md domain.MarketData) bool {
	f.mu.Lock()
	fn := f.tickFn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(md)
	return true
}

type captureSink struct {
	mu    sync.Mutex
	lives []string
	snaps []string
}

func (c *captureSink) WriteLive(line string) error {
	c.mu.Lock()
	c.lives = append(c.lives, line)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) WriteSnapshot(_ time.Time, line string) error {
	c.mu.Lock()
	c.snaps = append(c.snaps, line)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) NewLine() error { return nil }

func (c *captureSink) lastLive() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lives) == 0 {
		return ""
	}
	return c.lives[len(c.lives)-1]
}

func TestRunRendersAndPersistsTicks(t *testing.T) {
	broker := &feedBroker{}
	reg := venue.NewRegistry()
	reg.Register(domain.VenueCrypto, func(venue.Config) (port.Broker, error) { return broker, nil })

	store := storage.NewMemory()
	hub := aggregator.NewHub(reg, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !hub.ConnectBroker(ctx, aggregator.ConnectRequest{ID: "c1", Type: domain.VenueCrypto}) {
		t.Fatal("ConnectBroker failed")
	}

	sink := &captureSink{}
	svc := NewService(ServiceDeps{
		Hub:        hub,
		Feeds:      []Feed{{BrokerID: "c1", Symbols: []string{"BTCUSDT"}}},
		Sink:       sink,
		Store:      store,
		PrintEvery: time.Hour,
	})

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// wait for the subscription before pushing
	deadline := time.Now().Add(time.Second)
	for !broker.push(domain.MarketData{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()}) {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(sink.lastLive(), "50000") {
		if time.Now().After(deadline) {
			t.Fatalf("live line never showed the tick, last %q", sink.lastLive())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(sink.lastLive(), "fake-venue:50000") {
		t.Errorf("live line = %q", sink.lastLive())
	}

	deadline = time.Now().Add(time.Second)
	for {
		tick, err := store.GetLastTick(ctx, "fake-venue", "BTCUSDT")
		if err == nil && tick != nil && tick.Price == 50000 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tick never persisted, got %+v", tick)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}

	broker.mu.Lock()
	unsubbed := broker.unsubbed
	broker.mu.Unlock()
	if unsubbed != 1 {
		t.Errorf("unsubscribe count = %d, want 1", unsubbed)
	}
}

func TestRunRejectsEmptyDeps(t *testing.T) {
	svc := NewService(ServiceDeps{})
	if err := svc.Run(context.Background()); err == nil {
		t.Error("no feeds should be an error")
	}

	reg := venue.NewRegistry()
	hub := aggregator.NewHub(reg, storage.NewMemory())
	svc = NewService(ServiceDeps{
		Hub:   hub,
		Feeds: []Feed{{BrokerID: "ghost", Symbols: []string{"BTCUSDT"}}},
		Sink:  &captureSink{},
		Store: storage.NewMemory(),
	})
	if err := svc.Run(context.Background()); err == nil {
		t.Error("feeds without live brokers should be an error")
	}
}
