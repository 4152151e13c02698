package marketdata

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"brokerhub/internal/domain"
)

func TestPollOpenerEmitsAtInterval(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, symbol string) (domain.MarketData, error) {
		n := calls.Add(1)
		return domain.MarketData{Symbol: symbol, Price: float64(n)}, nil
	}

	r := NewRegistry("poller", PollOpener("poller", 5*time.Millisecond, fetch), DefaultReconnectPolicy())
	defer r.Close()

	ticks := make(chan domain.MarketData, 64)
	if _, err := r.Subscribe("ES", func(md domain.MarketData) {
		select {
		case ticks <- md:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// First poll fires immediately, later ones at the interval.
	for i := 1; i <= 3; i++ {
		select {
		case md := <-ticks:
			if md.Symbol != "ES" {
				t.Errorf("tick symbol = %q", md.Symbol)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
}

func TestPollOpenerSurvivesFetchFailures(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, symbol string) (domain.MarketData, error) {
		n := calls.Add(1)
		if n%2 == 1 {
			return domain.MarketData{}, errors.New("venue hiccup")
		}
		return domain.MarketData{Symbol: symbol, Price: 100}, nil
	}

	r := NewRegistry("poller", PollOpener("poller", time.Millisecond, fetch), DefaultReconnectPolicy())
	defer r.Close()

	ticks := make(chan domain.MarketData, 64)
	if _, err := r.Subscribe("NQ", func(md domain.MarketData) {
		select {
		case ticks <- md:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Failed polls are skipped, successful ones still flow.
	for i := 0; i < 2; i++ {
		select {
		case md := <-ticks:
			if md.Price != 100 {
				t.Errorf("tick price = %v", md.Price)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("polling stopped after a fetch failure")
		}
	}
	if !r.Active("NQ") {
		t.Error("symbol should remain active through fetch failures")
	}
}

func TestPollOpenerStopsOnTeardown(t *testing.T) {
	var calls atomic.Int64
	fetch := func(ctx context.Context, symbol string) (domain.MarketData, error) {
		calls.Add(1)
		return domain.MarketData{Symbol: symbol, Price: 1}, nil
	}

	r := NewRegistry("poller", PollOpener("poller", time.Millisecond, fetch), DefaultReconnectPolicy())
	defer r.Close()

	got := make(chan domain.MarketData, 64)
	id, err := r.Subscribe("CL", func(md domain.MarketData) {
		select {
		case got <- md:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick before teardown")
	}

	r.Unsubscribe("CL", id)

	// Polling must stop; allow in-flight work to drain, then require silence.
	deadline := time.Now().Add(time.Second)
	for r.Active("CL") {
		if time.Now().After(deadline) {
			t.Fatal("channel still active after last unsubscribe")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Errorf("poll kept running after teardown: %d -> %d", before, after)
	}
}
