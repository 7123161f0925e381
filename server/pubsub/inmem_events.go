package pubsub

import (
	"context"
	"sync"

	"github.com/scimrelay/scimrelay/server/scimrelay"
)

type inmemEventBus struct {
	mu     sync.Mutex
	subs   []chan *scimrelay.LocalEvent
	buffer int
}

var _ scimrelay.EventPublisher = (*inmemEventBus)(nil)
var _ scimrelay.EventSubscriber = (*inmemEventBus)(nil)

// NewInmemEventBus initializes a new in-memory implementation of the
// EventPublisher/EventSubscriber contract. Each subscriber gets its own
// buffered channel; a subscriber that falls more than buffer events behind
// causes Publish to return an error rather than block the producer.
func NewInmemEventBus(buffer int) *inmemEventBus {
	if buffer <= 0 {
		buffer = 128
	}
	return &inmemEventBus{buffer: buffer}
}

func (b *inmemEventBus) Publish(event *scimrelay.LocalEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
			// intentionally do nothing
		default:
			return noSubscriberError{event.ID}
		}
	}
	return nil
}

func (b *inmemEventBus) Subscribe(ctx context.Context) (<-chan *scimrelay.LocalEvent, error) {
	ch := make(chan *scimrelay.LocalEvent, b.buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
