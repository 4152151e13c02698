// Package aggregator owns the id → adapter map: it is the single place that
// creates, dispatches to and disposes broker adapters, persists secret-free
// connection records and publishes lifecycle events.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/application/port"
	"brokerhub/internal/domain"
	"brokerhub/internal/infrastructure/venue"
)

// ConnectRequest carries everything needed to bring one venue connection up.
// Credentials stay inside the built adapter; the persisted record never sees
// them.
type ConnectRequest struct {
	ID          string
	Name        string
	Type        domain.VenueType
	Credentials venue.Credentials
	Settings    venue.Settings
}

// OrderResult is the structured outcome of SubmitOrder. Failures come back
// as Success=false with a user-facing message, never as a Go error, so batch
// callers keep going.
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BalanceResult is the structured outcome of GetAccountBalance.
type BalanceResult struct {
	Success bool                  `json:"success"`
	Balance domain.AccountBalance `json:"balance"`
	Error   string                `json:"error,omitempty"`
}

// Hub is an explicitly constructed aggregator; there is no package-level
// instance. All maps are guarded by mu and mutated only through the API.
type Hub struct {
	registry *venue.Registry
	store    port.Store
	bus      *bus

	mu      sync.RWMutex
	brokers map[string]port.Broker
	records map[string]domain.BrokerConnection
	tracked map[string]map[string]domain.OrderStatus // broker id → order id → last seen status

	nowFunc func() time.Time
}

func NewHub(registry *venue.Registry, store port.Store) *Hub {
	return &Hub{
		registry: registry,
		store:    store,
		bus:      newBus(),
		brokers:  make(map[string]port.Broker),
		records:  make(map[string]domain.BrokerConnection),
		tracked:  make(map[string]map[string]domain.OrderStatus),
		nowFunc:  time.Now,
	}
}

// Subscribe registers a listener for one event type.
func (h *Hub) Subscribe(t EventType, fn Handler) {
	h.bus.subscribe(t, fn)
}

// ConnectBroker builds the adapter for the venue type, runs the auth
// handshake and registers the connection. Any failure logs the cause and
// returns false; no event is emitted and nothing is registered.
func (h *Hub) ConnectBroker(ctx context.Context, req ConnectRequest) bool {
	if req.ID == "" {
		log.Error().Msg("connect broker: empty id")
		return false
	}
	name := req.Name
	if name == "" {
		name = req.ID
	}

	h.mu.RLock()
	_, exists := h.brokers[req.ID]
	h.mu.RUnlock()
	if exists {
		log.Error().Str("id", req.ID).Msg("connect broker: id already registered")
		return false
	}

	adapter, err := h.registry.Build(req.Type, venue.Config{
		Name:        name,
		Credentials: req.Credentials,
		Settings:    req.Settings,
	})
	if err != nil {
		log.Error().Err(err).Str("id", req.ID).Str("type", string(req.Type)).Msg("connect broker: build failed")
		return false
	}

	if err := adapter.Connect(ctx); err != nil {
		log.Error().Err(err).Str("id", req.ID).Str("type", string(req.Type)).Msg("connect broker: handshake failed")
		_ = adapter.Close()
		return false
	}

	record := domain.BrokerConnection{
		ID:            req.ID,
		Name:          name,
		Type:          req.Type,
		Connected:     true,
		LastConnected: h.nowFunc(),
	}

	h.mu.Lock()
	if _, exists := h.brokers[req.ID]; exists {
		h.mu.Unlock()
		_ = adapter.Close()
		log.Error().Str("id", req.ID).Msg("connect broker: id already registered")
		return false
	}
	h.brokers[req.ID] = adapter
	h.records[req.ID] = record
	h.mu.Unlock()

	// 元数据持久化是尽力而为，存储故障不回滚在线连接
	if err := h.store.SaveConnection(ctx, record); err != nil {
		log.Warn().Err(err).Str("id", req.ID).Msg("persist connection failed")
	}

	h.bus.publish(Event{Type: EventConnect, BrokerID: req.ID, Broker: name, At: h.nowFunc()})
	return true
}

// DisconnectBroker marks the record disconnected, persists it, closes the
// live adapter (tearing down its market-data tasks) and emits a disconnect
// event. Unknown ids return false.
func (h *Hub) DisconnectBroker(ctx context.Context, id string) bool {
	h.mu.Lock()
	adapter, ok := h.brokers[id]
	if !ok {
		h.mu.Unlock()
		log.Warn().Str("id", id).Msg("disconnect broker: unknown id")
		return false
	}
	delete(h.brokers, id)
	delete(h.tracked, id)
	record := h.records[id]
	record.Connected = false
	h.records[id] = record
	h.mu.Unlock()

	if err := adapter.Close(); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("close adapter failed")
	}
	if err := h.store.SaveConnection(ctx, record); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("persist connection failed")
	}

	h.bus.publish(Event{Type: EventDisconnect, BrokerID: id, Broker: record.Name, At: h.nowFunc()})
	return true
}

// SubmitOrder validates the request, dispatches it to the adapter by id and
// tracks the returned order for status sync. Venue errors are logged in full
// and normalized in the result.
func (h *Hub) SubmitOrder(ctx context.Context, id string, req domain.OrderRequest) OrderResult {
	if err := req.Validate(); err != nil {
		return OrderResult{Error: err.Error()}
	}

	adapter, record, ok := h.liveBroker(id)
	if !ok {
		return OrderResult{Error: fmt.Sprintf("broker %s is not connected", id)}
	}

	orderID, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("id", id).Str("symbol", req.Symbol).Msg("submit order failed")
		return OrderResult{Error: fmt.Sprintf("failed to submit order to %s", record.Name)}
	}

	h.mu.Lock()
	if h.tracked[id] == nil {
		h.tracked[id] = make(map[string]domain.OrderStatus)
	}
	h.tracked[id][orderID] = domain.StatusPending
	h.mu.Unlock()

	h.bus.publish(Event{
		Type:     EventOrderSubmit,
		BrokerID: id,
		Broker:   record.Name,
		OrderID:  orderID,
		Status:   domain.StatusPending,
		At:       h.nowFunc(),
	})
	return OrderResult{Success: true, OrderID: orderID}
}

// GetAccountBalance dispatches to the adapter by id.
func (h *Hub) GetAccountBalance(ctx context.Context, id string) BalanceResult {
	adapter, record, ok := h.liveBroker(id)
	if !ok {
		return BalanceResult{Error: fmt.Sprintf("broker %s is not connected", id)}
	}

	bal, err := adapter.GetBalance(ctx)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("get balance failed")
		return BalanceResult{Error: fmt.Sprintf("failed to get balance from %s", record.Name)}
	}
	return BalanceResult{Success: true, Balance: bal}
}

// SyncOrders refetches order history for one broker and emits order_update
// for every tracked order whose mapped status changed. Terminal orders leave
// the tracked set.
func (h *Hub) SyncOrders(ctx context.Context, id string) {
	adapter, _, ok := h.liveBroker(id)
	if !ok {
		return
	}

	records, err := adapter.GetOrderHistory(ctx)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("order sync failed")
		return
	}

	h.mu.Lock()
	watch := h.tracked[id]
	var updates []Event
	for _, rec := range records {
		last, tracked := watch[rec.OrderID]
		if !tracked || rec.Status == last {
			continue
		}
		if rec.Terminal() {
			delete(watch, rec.OrderID)
		} else {
			watch[rec.OrderID] = rec.Status
		}
		updates = append(updates, Event{
			Type:     EventOrderUpdate,
			BrokerID: id,
			Broker:   rec.Broker,
			OrderID:  rec.OrderID,
			Status:   rec.Status,
			At:       h.nowFunc(),
		})
	}
	h.mu.Unlock()

	// 出锁后再发布，订阅者可以安全回调 Hub
	for _, ev := range updates {
		h.bus.publish(ev)
	}
}

// Broker returns the live adapter by id for callers that need the full
// uniform contract.
func (h *Hub) Broker(id string) (port.Broker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.brokers[id]
	return b, ok
}

// Connections returns the current connection records sorted by id.
func (h *Hub) Connections() []domain.BrokerConnection {
	h.mu.RLock()
	out := make([]domain.BrokerConnection, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TrackedOrders reports how many orders are still being watched for a broker.
func (h *Hub) TrackedOrders(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tracked[id])
}

// Close disconnects every registered broker.
func (h *Hub) Close() error {
	h.mu.RLock()
	ids := make([]string, 0, len(h.brokers))
	for id := range h.brokers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.DisconnectBroker(context.Background(), id)
	}
	return nil
}

func (h *Hub) liveBroker(id string) (port.Broker, domain.BrokerConnection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	adapter, ok := h.brokers[id]
	if !ok {
		return nil, domain.BrokerConnection{}, false
	}
	record := h.records[id]
	if !record.Connected {
		return nil, record, false
	}
	return adapter, record, true
}
