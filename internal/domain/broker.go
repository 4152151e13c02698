package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ========== Venue Classification ==========

// VenueType classifies a broker connection by market class.
type VenueType string

const (
	VenueCrypto  VenueType = "crypto"
	VenueForex   VenueType = "forex"
	VenueStocks  VenueType = "stocks"
	VenueFutures VenueType = "futures"
)

// ParseVenueType normalizes a venue type string.
func ParseVenueType(s string) (VenueType, error) {
	switch VenueType(s) {
	case VenueCrypto, VenueForex, VenueStocks, VenueFutures:
		return VenueType(s), nil
	default:
		return "", fmt.Errorf("unknown venue type: %q", s)
	}
}

// ========== Orders ==========

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderStatus is the normalized order lifecycle state. Venue statuses are
// mapped through a fixed per-venue table; anything unmapped becomes
// StatusPending.
type OrderStatus string

const (
	StatusFilled    OrderStatus = "filled"
	StatusPending   OrderStatus = "pending"
	StatusCancelled OrderStatus = "cancelled"
)

// OrderRequest is the venue-agnostic order shape. Adapters translate it into
// venue field names and enums.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price,omitempty"` // required when Type == limit
}

// Validate checks the request before any network call is made.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("order symbol is empty")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %v", r.Quantity)
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("unknown order side: %q", r.Side)
	}
	switch r.Type {
	case OrderMarket:
	case OrderLimit:
		if r.LimitPrice <= 0 {
			return errors.New("limit order requires a positive limit price")
		}
	default:
		return fmt.Errorf("unknown order type: %q", r.Type)
	}
	return nil
}

// OrderRecord is one row of normalized order history.
type OrderRecord struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Broker    string      `json:"broker"` // adapter name that produced the record
}

// Terminal reports whether the order can no longer change state.
func (r OrderRecord) Terminal() bool {
	return r.Status == StatusFilled || r.Status == StatusCancelled
}

// ========== Account State ==========

// AccountBalance is rebuilt from venue state on every fetch, never cached.
// Total == Cash + Positions within venue rounding.
type AccountBalance struct {
	Total     float64 `json:"total"`
	Cash      float64 `json:"cash"`
	Positions float64 `json:"positions"`
}

// Consistent reports whether Total equals Cash plus Positions within epsilon.
func (b AccountBalance) Consistent(epsilon float64) bool {
	return math.Abs(b.Total-(b.Cash+b.Positions)) <= epsilon
}

// Position is a single normalized holding, materialized per fetch.
// Short exposure carries a negative Quantity so the PnL sign falls out of
// the same formula.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
}

// RecomputePnL sets PnL = Quantity * (CurrentPrice - AveragePrice).
func (p *Position) RecomputePnL() {
	p.PnL = p.Quantity * (p.CurrentPrice - p.AveragePrice)
}

// ========== Market Data ==========

// MarketData is one normalized tick for one symbol. Ticks for the same
// symbol from the same adapter arrive in order; there is no cross-symbol
// guarantee.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Open      float64   `json:"open,omitempty"`
	Close     float64   `json:"close,omitempty"`
}

// ========== Aggregator Records ==========

// BrokerConnection is the persisted, secret-free connection record.
// Credentials live only inside the running adapter.
type BrokerConnection struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          VenueType `json:"type"`
	Connected     bool      `json:"connected"`
	LastConnected time.Time `json:"last_connected"`
}

// LastTick is the storage-level cache of the most recent tick seen for a
// venue and symbol.
type LastTick struct {
	Venue  string    `json:"venue"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}
