// Package watch drives the console monitor: a symbol × venue price grid fed
// by market-data subscriptions, with last ticks persisted as they arrive.
package watch

import (
	"fmt"
	"strings"
	"sync"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

type pxState struct {
	str string
	num float64
	has bool
	dir Dir
}

// Cell is one rendered grid cell: latest price text and tick direction.
type Cell struct {
	Price string
	Dir   Dir
	Has   bool
}

// State 持有一张 symbol × venue 的最新价表；行列在构造时固定
type State struct {
	mu sync.Mutex

	symbols []string
	venues  []string
	grid    map[string]map[string]*pxState // symbol -> venue -> price state
}

func NewState(symbols, venues []string) *State {
	symOrder := make([]string, 0, len(symbols))
	grid := make(map[string]map[string]*pxState, len(symbols))
	for _, sym := range symbols {
		u := strings.ToUpper(strings.TrimSpace(sym))
		if u == "" || grid[u] != nil {
			continue
		}
		symOrder = append(symOrder, u)
		grid[u] = make(map[string]*pxState)
	}

	venueOrder := make([]string, 0, len(venues))
	for _, v := range venues {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		venueOrder = append(venueOrder, v)
		for _, row := range grid {
			row[v] = &pxState{}
		}
	}

	return &State{symbols: symOrder, venues: venueOrder, grid: grid}
}

func (s *State) Symbols() []string { return s.symbols }

func (s *State) Venues() []string { return s.venues }

// Apply 更新一个格子，返回显示是否发生了变化
func (s *State) Apply(venue, symbol string, price float64) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || price <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.grid[symbol]
	if row == nil {
		return false
	}
	ps := row[venue]
	if ps == nil {
		return false
	}

	str := fmt.Sprintf("%.8g", price)
	if ps.str == str {
		return false
	}

	ps.str = str
	if !ps.has {
		ps.has = true
		ps.num = price
		ps.dir = DirSame
		return true
	}

	switch {
	case price > ps.num:
		ps.dir = DirUp
	case price < ps.num:
		ps.dir = DirDown
	default:
		ps.dir = DirSame
	}
	ps.num = price
	return true
}

// Snapshot returns a copy of the grid for rendering.
func (s *State) Snapshot() map[string]map[string]Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]Cell, len(s.grid))
	for sym, row := range s.grid {
		cells := make(map[string]Cell, len(row))
		for venue, ps := range row {
			cells[venue] = Cell{Price: ps.str, Dir: ps.dir, Has: ps.has}
		}
		out[sym] = cells
	}
	return out
}
