package hub

import (
	"context"
	"sync"

	"github.com/ferrogym/ferrogym/internal/services/notifications/domain"
)

// Envelope is the unit of cross-process notification fan-out. The
// notification inside is already persisted; subscribers only deliver it.
type Envelope struct {
	Notification domain.Notification
}

// Backplane decouples fan-out from process topology. Every process
// subscribes and drives its local connections from received envelopes.
type Backplane interface {
	Publish(ctx context.Context, envelope Envelope) error
	Subscribe(handler func(Envelope)) (func(), error)
}

// Loopback is the in-process backplane used by the single-binary
// deployment. Handlers run synchronously on the publisher's goroutine, which
// preserves per-recipient order.
type Loopback struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Envelope)
}

// NewLoopback builds an empty in-process backplane.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[int]func(Envelope))}
}

// Publish delivers the envelope to every subscriber.
func (l *Loopback) Publish(ctx context.Context, envelope Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	handlers := make([]func(Envelope), 0, len(l.handlers))
	for _, handler := range l.handlers {
		handlers = append(handlers, handler)
	}
	l.mu.RUnlock()

	for _, handler := range handlers {
		handler(envelope)
	}
	return nil
}

// Subscribe registers a handler and returns its cancel function.
func (l *Loopback) Subscribe(handler func(Envelope)) (func(), error) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[id] = handler
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}, nil
}
