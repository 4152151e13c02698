package aggregator

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"brokerhub/internal/domain"
)

// EventType names the hub lifecycle events listeners can subscribe to.
type EventType string

const (
	EventConnect     EventType = "connect"
	EventDisconnect  EventType = "disconnect"
	EventOrderSubmit EventType = "order_submit"
	EventOrderUpdate EventType = "order_update"
)

// Event is the payload delivered to subscribers. Order events carry OrderID
// and Status; connect/disconnect leave them empty.
type Event struct {
	Type     EventType
	BrokerID string
	Broker   string
	OrderID  string
	Status   domain.OrderStatus
	At       time.Time
}

// Handler receives one event. Dispatch is synchronous on the publishing
// goroutine, in registration order.
type Handler func(Event)

// bus 按事件类型分发；订阅者 panic 被逐个兜住，不影响其它订阅者
type bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Handler
}

func newBus() *bus {
	return &bus{subs: make(map[EventType][]Handler)}
}

func (b *bus) subscribe(t EventType, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], h)
	b.mu.Unlock()
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", string(ev.Type)).
				Str("brokerID", ev.BrokerID).
				Msg("event subscriber panicked")
		}
	}()
	h(ev)
}
