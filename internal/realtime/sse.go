package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
)

var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// StoreSnapshot loads the dashboard state sent when a client (re)connects.
type StoreSnapshot func(ctx context.Context) ([]orders.OrderView, error)

// OrderSnapshot loads the single order sent when a status page (re)connects.
type OrderSnapshot func(ctx context.Context) (orders.OrderView, error)

// StreamStore serves the store feed until the client disconnects. An error is
// returned only if it happens before the response starts.
func (b *Broker) StreamStore(w http.ResponseWriter, r *http.Request, storeID uuid.UUID, snapshot StoreSnapshot) error {
	return b.stream(w, r, b.bus.StoreOrdersChannel(storeID.String()), func(ctx context.Context) (Message, error) {
		views, err := snapshot(ctx)
		if err != nil {
			return Message{}, err
		}
		if views == nil {
			views = []orders.OrderView{}
		}
		return Message{Type: MessageSnapshot, Orders: views}, nil
	})
}

// StreamOrder serves the feed of a single order.
func (b *Broker) StreamOrder(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, snapshot OrderSnapshot) error {
	return b.stream(w, r, b.bus.OrderChannel(orderID.String()), func(ctx context.Context) (Message, error) {
		view, err := snapshot(ctx)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: MessageSnapshot, Order: &view}, nil
	})
}

func (b *Broker) stream(w http.ResponseWriter, r *http.Request, channel string, load func(context.Context) (Message, error)) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	ctx := r.Context()

	// Subscribe before the snapshot so nothing committed in between is lost.
	payloads, closeSub, err := b.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	defer func() {
		if cerr := closeSub(); cerr != nil {
			b.logg.Warn(ctx, "realtime unsubscribe failed: "+cerr.Error())
		}
	}()

	initial, err := load(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logCtx := b.logg.WithField(ctx, "channel", channel)
	b.logg.Debug(logCtx, "realtime stream opened")
	if err := writeEvent(w, MessageSnapshot, body); err != nil {
		return nil
	}
	flusher.Flush()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logg.Debug(logCtx, "realtime stream closed")
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case payload, ok := <-payloads:
			if !ok {
				b.logg.Warn(logCtx, "realtime subscription ended")
				return nil
			}
			if err := writeEvent(w, MessageOrder, []byte(payload)); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
