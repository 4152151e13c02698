package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brokerhub/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := domain.BrokerConnection{
		ID:            "crypto-1",
		Name:          "binance-main",
		Type:          domain.VenueCrypto,
		Connected:     true,
		LastConnected: time.UnixMilli(1700000000123),
	}
	if err := s.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	got, err := s.GetConnection(ctx, "crypto-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got == nil || got.Name != "binance-main" || got.Type != domain.VenueCrypto || !got.Connected {
		t.Errorf("got = %+v", got)
	}
	if got.LastConnected.UnixMilli() != 1700000000123 {
		t.Errorf("LastConnected = %v", got.LastConnected)
	}

	// same id overwrites
	conn.Connected = false
	if err := s.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection update: %v", err)
	}
	got, _ = s.GetConnection(ctx, "crypto-1")
	if got.Connected {
		t.Error("update should have flipped Connected")
	}

	if err := s.DeleteConnection(ctx, "crypto-1"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	got, err = s.GetConnection(ctx, "crypto-1")
	if err != nil || got != nil {
		t.Errorf("after delete got %+v, err %v", got, err)
	}
}

func TestGetConnectionMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetConnection(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("missing record should be (nil, nil), got %+v, %v", got, err)
	}
}

func TestListConnectionsSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := s.SaveConnection(ctx, domain.BrokerConnection{ID: id, Name: id, Type: domain.VenueStocks}); err != nil {
			t.Fatalf("SaveConnection %s: %v", id, err)
		}
	}

	conns, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(conns) != 3 || conns[0].ID != "a" || conns[2].ID != "c" {
		t.Errorf("conns = %+v", conns)
	}
}

func TestLastTickUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tick := domain.LastTick{Venue: "binance", Symbol: "BTCUSDT", Price: 50000, Ts: time.UnixMilli(1700000000000)}
	if err := s.UpsertLastTick(ctx, tick); err != nil {
		t.Fatalf("UpsertLastTick: %v", err)
	}

	tick.Price = 50100
	tick.Ts = time.UnixMilli(1700000005000)
	if err := s.UpsertLastTick(ctx, tick); err != nil {
		t.Fatalf("UpsertLastTick update: %v", err)
	}

	got, err := s.GetLastTick(ctx, "binance", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastTick: %v", err)
	}
	if got == nil || got.Price != 50100 || got.Ts.UnixMilli() != 1700000005000 {
		t.Errorf("got = %+v", got)
	}

	if err := s.UpsertLastTick(ctx, domain.LastTick{Venue: "etrade", Symbol: "AAPL", Price: 175, Ts: time.Now()}); err != nil {
		t.Fatalf("UpsertLastTick second venue: %v", err)
	}
	ticks, err := s.ListLastTicks(ctx)
	if err != nil {
		t.Fatalf("ListLastTicks: %v", err)
	}
	if len(ticks) != 2 || ticks[0].Venue != "binance" || ticks[1].Venue != "etrade" {
		t.Errorf("ticks = %+v", ticks)
	}

	missing, err := s.GetLastTick(ctx, "binance", "ETHUSDT")
	if err != nil || missing != nil {
		t.Errorf("missing tick should be (nil, nil), got %+v, %v", missing, err)
	}
}
