package browser

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

const subscriberBuffer = 16

// MessageBus fans cross-window messages out to every subscriber. It
// implements ua.Messages for the in-process session.
type MessageBus struct {
	log *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan ua.Message
	nextID      int
	closed      bool
}

// NewMessageBus creates an empty bus.
func NewMessageBus(logger *zap.Logger) *MessageBus {
	return &MessageBus{
		log:         logger.Named("message_bus"),
		subscribers: make(map[int]chan ua.Message),
	}
}

// Subscribe registers a listener. The cancel func releases it and closes the
// channel; releasing twice is safe.
func (b *MessageBus) Subscribe() (<-chan ua.Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ua.Message, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber. A subscriber whose buffer is full
// misses the message; delivery never blocks the publisher.
func (b *MessageBus) Publish(msg ua.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		select {
		case sub <- msg:
		default:
			b.log.Warn("Subscriber buffer full; dropping message.",
				zap.Int("subscriber", id), zap.String("origin", msg.Origin))
		}
	}
}

// Close releases every subscriber. Further subscriptions receive a closed
// channel; further publishes are dropped.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub)
	}
}
