// ABOUTME: In-memory fan-out of change events to subscribers within one process
// ABOUTME: Non-blocking sends; events are dropped for subscribers whose channels are full

package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/emberchat/ember/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// broadcaster provides in-process pub/sub for change events. Subscribers
// are idempotent on "refresh this resource", so dropped or duplicated
// events degrade to an extra or missed refresh, never corruption.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *model.ChangeEvent
	logger      *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]chan *model.ChangeEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// subscribe registers a subscriber. The subscription is cleaned up when
// ctx is cancelled.
func (b *broadcaster) subscribe(ctx context.Context) (<-chan *model.ChangeEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *model.ChangeEvent, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch, subID
}

// publish sends an event to all subscribers. Non-blocking: full channels
// drop the event.
func (b *broadcaster) publish(event *model.ChangeEvent) {
	b.mu.RLock()
	targets := make([]chan *model.ChangeEvent, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "type", string(event.Type))
		}
	}
}

func (b *broadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
}
