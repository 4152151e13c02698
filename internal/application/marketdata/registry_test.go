package marketdata

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
)

// blockingOpener hands its emit func to the test and blocks until teardown.
func blockingOpener(emitCh chan func(domain.MarketData), events chan string) OpenChannelFunc {
	return func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		if events != nil {
			events <- "open"
		}
		select {
		case emitCh <- emit:
		default:
		}
		<-ctx.Done()
		if events != nil {
			events <- "closed"
		}
		return ctx.Err()
	}
}

func waitEvent(t *testing.T, events chan string, want string) {
	t.Helper()
	select {
	case got := <-events:
		if got != want {
			t.Fatalf("expected event %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %q", want)
	}
}

func TestFanOutInRegistrationOrder(t *testing.T) {
	emitCh := make(chan func(domain.MarketData), 1)
	reg := NewRegistry("stub", blockingOpener(emitCh, nil), DefaultReconnectPolicy())
	defer reg.Close()

	var order []int
	counts := make(map[int]int)
	sub := func(n int) port.SubscriptionID {
		id, err := reg.Subscribe("BTCUSD", func(domain.MarketData) {
			order = append(order, n)
			counts[n]++
		})
		if err != nil {
			t.Fatalf("subscribe %d failed: %v", n, err)
		}
		return id
	}

	sub(1)
	id2 := sub(2)
	sub(3)

	var emit func(domain.MarketData)
	select {
	case emit = <-emitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("channel never opened")
	}

	emit(domain.MarketData{Price: 50000})
	if counts[1] != 1 || counts[2] != 1 || counts[3] != 1 {
		t.Fatalf("expected every callback once, got %v", counts)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected registration-order fan-out, got %v", order)
	}

	// N subscribers, M unsubscribe: exactly N-M callbacks per tick
	reg.Unsubscribe("BTCUSD", id2)
	emit(domain.MarketData{Price: 50001})
	if counts[1] != 2 || counts[2] != 1 || counts[3] != 2 {
		t.Fatalf("expected only remaining callbacks to fire, got %v", counts)
	}
}

func TestDispatchFillsSymbolAndTimestamp(t *testing.T) {
	emitCh := make(chan func(domain.MarketData), 1)
	reg := NewRegistry("stub", blockingOpener(emitCh, nil), DefaultReconnectPolicy())
	defer reg.Close()

	var got domain.MarketData
	if _, err := reg.Subscribe("ETHUSD", func(md domain.MarketData) { got = md }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	emit := <-emitCh
	emit(domain.MarketData{Price: 3000})

	if got.Symbol != "ETHUSD" {
		t.Errorf("expected symbol to be filled in, got %q", got.Symbol)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestSharedChannelPerSymbol(t *testing.T) {
	var opens atomic.Int32
	emitCh := make(chan func(domain.MarketData), 1)
	open := func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		opens.Add(1)
		select {
		case emitCh <- emit:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	reg := NewRegistry("stub", open, DefaultReconnectPolicy())
	defer reg.Close()

	var a, b int
	reg.Subscribe("BTCUSD", func(domain.MarketData) { a++ })
	reg.Subscribe("BTCUSD", func(domain.MarketData) { b++ })

	emit := <-emitCh
	emit(domain.MarketData{Price: 50000})

	if a != 1 || b != 1 {
		t.Fatalf("expected both callbacks exactly once, got a=%d b=%d", a, b)
	}
	if n := opens.Load(); n != 1 {
		t.Fatalf("expected one shared channel, got %d opens", n)
	}

	reg.Subscribe("ETHUSD", func(domain.MarketData) {})
	deadline := time.Now().Add(2 * time.Second)
	for opens.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := opens.Load(); n != 2 {
		t.Fatalf("expected a second channel for the second symbol, got %d", n)
	}
}

func TestLastUnsubscribeStopsChannel(t *testing.T) {
	emitCh := make(chan func(domain.MarketData), 1)
	events := make(chan string, 8)
	reg := NewRegistry("stub", blockingOpener(emitCh, events), DefaultReconnectPolicy())
	defer reg.Close()

	calls := 0
	id1, _ := reg.Subscribe("BTCUSD", func(domain.MarketData) { calls++ })
	id2, _ := reg.Subscribe("BTCUSD", func(domain.MarketData) { calls++ })
	waitEvent(t, events, "open")
	emit := <-emitCh

	reg.Unsubscribe("BTCUSD", id1)
	if !reg.Active("BTCUSD") {
		t.Fatal("channel should survive while a subscriber remains")
	}

	reg.Unsubscribe("BTCUSD", id2)
	waitEvent(t, events, "closed")
	if reg.Active("BTCUSD") {
		t.Fatal("channel should be torn down after the last unsubscribe")
	}

	// a tick already in flight at unsubscribe time must not reach removed
	// callbacks
	before := calls
	emit(domain.MarketData{Price: 50002})
	if calls != before {
		t.Fatalf("stray tick reached removed callbacks: %d -> %d", before, calls)
	}
}

func TestUnsubscribeAllTearsDown(t *testing.T) {
	emitCh := make(chan func(domain.MarketData), 1)
	events := make(chan string, 8)
	reg := NewRegistry("stub", blockingOpener(emitCh, events), DefaultReconnectPolicy())
	defer reg.Close()

	calls := 0
	reg.Subscribe("BTCUSD", func(domain.MarketData) { calls++ })
	reg.Subscribe("BTCUSD", func(domain.MarketData) { calls++ })
	waitEvent(t, events, "open")
	emit := <-emitCh

	reg.UnsubscribeAll("BTCUSD")
	waitEvent(t, events, "closed")

	emit(domain.MarketData{Price: 1})
	if calls != 0 {
		t.Fatalf("expected zero invocations after teardown, got %d", calls)
	}

	// unknown symbol and stale ids are no-ops
	reg.UnsubscribeAll("NOPE")
	reg.Unsubscribe("NOPE", 99)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	var opens atomic.Int32
	open := func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		opens.Add(1)
		return errors.New("dial refused")
	}
	policy := ReconnectPolicy{Initial: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 3}
	reg := NewRegistry("stub", open, policy)
	defer reg.Close()

	if _, err := reg.Subscribe("BTCUSD", func(domain.MarketData) {}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Active("BTCUSD") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Active("BTCUSD") {
		t.Fatal("registry should drop the symbol after exhausting reconnect attempts")
	}
	// initial try plus MaxAttempts retries
	if n := opens.Load(); n != 4 {
		t.Fatalf("expected 4 open attempts, got %d", n)
	}

	// a fresh subscribe starts over
	if _, err := reg.Subscribe("BTCUSD", func(domain.MarketData) {}); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for opens.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if opens.Load() < 5 {
		t.Fatal("resubscribe should open a new channel")
	}
}

func TestDeliveredTickResetsBackoffBudget(t *testing.T) {
	var sessions atomic.Int32
	open := func(ctx context.Context, symbol string, emit func(domain.MarketData)) error {
		sessions.Add(1)
		emit(domain.MarketData{Price: 100})
		return errors.New("stream dropped")
	}
	policy := ReconnectPolicy{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 2}
	reg := NewRegistry("stub", open, policy)
	defer reg.Close()

	ticks := make(chan struct{}, 64)
	reg.Subscribe("BTCUSD", func(domain.MarketData) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for sessions.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sessions.Load() < 5 {
		t.Fatalf("expected sessions to keep reconnecting, got %d", sessions.Load())
	}
	if !reg.Active("BTCUSD") {
		t.Fatal("healthy sessions must not exhaust the reconnect budget")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	reg := NewRegistry("stub", blockingOpener(make(chan func(domain.MarketData), 1), nil), DefaultReconnectPolicy())
	reg.Close()
	if _, err := reg.Subscribe("BTCUSD", func(domain.MarketData) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
