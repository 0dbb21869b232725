// Package realtime pushes committed order changes to connected dashboards and
// customer status pages over Redis pub/sub and server-sent events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

const (
	MessageSnapshot = "snapshot"
	MessageOrder    = "order"

	defaultHeartbeat = 20 * time.Second
)

// Bus is the pub/sub surface of pkg/redis.Client.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan string, func() error, error)
	StoreOrdersChannel(storeID string) string
	OrderChannel(orderID string) string
}

// Message is the JSON body of every feed frame.
type Message struct {
	Type   string             `json:"type"`
	Order  *orders.OrderView  `json:"order,omitempty"`
	Orders []orders.OrderView `json:"orders,omitempty"`
}

// Broker publishes order changes and serves live streams.
type Broker struct {
	bus       Bus
	logg      *logger.Logger
	heartbeat time.Duration
}

type Option func(*Broker)

// WithHeartbeat sets the keep-alive comment interval of open streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

func NewBroker(bus Bus, logg *logger.Logger, opts ...Option) (*Broker, error) {
	if bus == nil {
		return nil, fmt.Errorf("realtime bus required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	b := &Broker{bus: bus, logg: logg, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// PublishOrder sends the current state of order to the store channel and
// the order's own channel. Delivery is best effort.
func (b *Broker) PublishOrder(ctx context.Context, order models.Order) error {
	view := orders.NewOrderView(order)
	payload, err := json.Marshal(Message{Type: MessageOrder, Order: &view})
	if err != nil {
		return fmt.Errorf("marshal order message: %w", err)
	}
	return multierr.Combine(
		b.bus.Publish(ctx, b.bus.StoreOrdersChannel(order.StoreID.String()), payload),
		b.bus.Publish(ctx, b.bus.OrderChannel(order.ID.String()), payload),
	)
}
