package watch

import (
	"strings"
	"testing"
)

func TestStateApplyTracksDirection(t *testing.T) {
	st := NewState([]string{"btcusdt"}, []string{"binance"})

	if !st.Apply("binance", "BTCUSDT", 50000) {
		t.Fatal("first price should change the display")
	}
	if st.Apply("binance", "BTCUSDT", 50000) {
		t.Error("same price should not redraw")
	}

	if !st.Apply("binance", "BTCUSDT", 50100) {
		t.Fatal("higher price should change the display")
	}
	cell := st.Snapshot()["BTCUSDT"]["binance"]
	if cell.Dir != DirUp || cell.Price != "50100" {
		t.Errorf("cell = %+v", cell)
	}

	st.Apply("binance", "BTCUSDT", 49900)
	if cell := st.Snapshot()["BTCUSDT"]["binance"]; cell.Dir != DirDown {
		t.Errorf("cell after drop = %+v", cell)
	}
}

func TestStateApplyIgnoresUnknownCells(t *testing.T) {
	st := NewState([]string{"BTCUSDT"}, []string{"binance"})

	if st.Apply("binance", "ETHUSDT", 3000) {
		t.Error("unknown symbol should be ignored")
	}
	if st.Apply("etrade", "BTCUSDT", 3000) {
		t.Error("unknown venue should be ignored")
	}
	if st.Apply("binance", "BTCUSDT", 0) {
		t.Error("zero price should be ignored")
	}
	if st.Apply("binance", "BTCUSDT", -1) {
		t.Error("negative price should be ignored")
	}
}

func TestStateNormalizesConstruction(t *testing.T) {
	st := NewState([]string{" btcusdt ", "", "BTCUSDT", "aapl"}, []string{"v1", ""})

	if got := st.Symbols(); len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "AAPL" {
		t.Errorf("symbols = %v", got)
	}
	if got := st.Venues(); len(got) != 1 || got[0] != "v1" {
		t.Errorf("venues = %v", got)
	}
}

func TestRenderGrid(t *testing.T) {
	st := NewState([]string{"BTCUSDT", "AAPL"}, []string{"binance", "etrade"})
	f := NewFormatter()

	live := f.Render(st, RenderLive)
	if !strings.HasPrefix(live, "\r") || !strings.HasSuffix(live, ansiClearEOL) {
		t.Errorf("live frame markers missing: %q", live)
	}
	for _, want := range []string{"BTCUSDT", "AAPL", "binance:--", "etrade:--"} {
		if !strings.Contains(live, want) {
			t.Errorf("live line missing %q: %q", want, live)
		}
	}

	st.Apply("binance", "BTCUSDT", 50000)
	st.Apply("binance", "BTCUSDT", 50100)
	live = f.Render(st, RenderLive)
	if !strings.Contains(live, ansiGreen+"binance:50100") {
		t.Errorf("up tick should render green: %q", live)
	}

	snap := f.Render(st, RenderSnapshot)
	if strings.HasPrefix(snap, "\r") || strings.HasSuffix(snap, ansiClearEOL) {
		t.Errorf("snapshot must not carry live frame markers: %q", snap)
	}
}
