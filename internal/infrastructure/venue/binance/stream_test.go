package binance

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brokerhub/internal/application/marketdata"
	"brokerhub/internal/domain"
)

func TestBuildStreamURL(t *testing.T) {
	got, err := buildStreamURL("wss://stream.binance.com:9443", "BTCUSDT")
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}
	if want := "wss://stream.binance.com:9443/ws/btcusdt@miniTicker"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := buildStreamURL("", "BTCUSDT"); err == nil {
		t.Error("empty base should fail")
	}
	if _, err := buildStreamURL("wss://x", "  "); err == nil {
		t.Error("empty symbol should fail")
	}
}

func TestMiniTickerToMarketData(t *testing.T) {
	ev := miniTickerEvent{
		Event:  "24hrMiniTicker",
		Time:   1700000000000,
		Symbol: "btcusdt",
		Close:  "50000.5",
		Open:   "49000",
		High:   "51000",
		Low:    "48500",
		Volume: "1200",
	}
	md, ok := ev.toMarketData()
	if !ok {
		t.Fatal("expected a usable tick")
	}
	if md.Symbol != "BTCUSDT" || md.Price != 50000.5 || md.Close != 50000.5 {
		t.Errorf("tick = %+v", md)
	}
	if md.Open != 49000 || md.High != 51000 || md.Low != 48500 || md.Volume != 1200 {
		t.Errorf("ohlv not carried: %+v", md)
	}
	if md.Timestamp != time.UnixMilli(1700000000000) {
		t.Errorf("timestamp = %v", md.Timestamp)
	}

	if _, ok := (miniTickerEvent{Symbol: "BTCUSDT"}).toMarketData(); ok {
		t.Error("missing close price should be dropped")
	}
	if _, ok := (miniTickerEvent{Symbol: "BTCUSDT", Close: "-1"}).toMarketData(); ok {
		t.Error("non-positive price should be dropped")
	}
}

func TestStreamDeliversTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.Path:
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		payload := `{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"50000.5","o":"49000","h":"51000","l":"48500","v":"1200"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	reg := marketdata.NewRegistry("binance", streamOpener(wsURL), marketdata.ReconnectPolicy{
		Initial:     time.Millisecond,
		Max:         5 * time.Millisecond,
		MaxAttempts: 3,
	})
	defer reg.Close()

	ticks := make(chan domain.MarketData, 8)
	if _, err := reg.Subscribe("BTCUSDT", func(md domain.MarketData) {
		select {
		case ticks <- md:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case md := <-ticks:
		if md.Symbol != "BTCUSDT" || md.Price != 50000.5 {
			t.Errorf("tick = %+v", md)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered from the stream")
	}

	if got := <-paths; got != "/ws/btcusdt@miniTicker" {
		t.Errorf("stream path = %q", got)
	}
}
