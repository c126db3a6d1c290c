// Package hub fans persisted notifications out to live websocket
// connections.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ferrogym/ferrogym/internal/platform/id"
	"github.com/ferrogym/ferrogym/internal/services/notifications/domain"
	"github.com/ferrogym/ferrogym/internal/services/notifications/storage"
)

// Frame types exchanged over a notification websocket.
const (
	FrameHello        = "hello"
	FrameNotification = "notification"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameMarkRead     = "mark_read"
)

// Frame is the wire message in both directions. Fields are sparse; the type
// decides which ones are set.
type Frame struct {
	Type         string               `json:"type"`
	Unread       int                  `json:"unread,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	ID           string               `json:"id,omitempty"`

	// Title and Body are localized copy the transport attaches to
	// notification frames before writing them out.
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Conn is one live client connection. Send must be safe for concurrent use;
// the websocket transport guards writes with a mutex.
type Conn interface {
	Send(frame Frame) error
}

// Hub tracks live connections per principal and delivers notifications to
// them. Persistence always happens before fan-out, so a recipient with no
// connection simply finds the row unread later.
type Hub struct {
	store     storage.Store
	backplane Backplane
	clock     func() time.Time
	newID     func() (string, error)

	mu          sync.RWMutex
	conns       map[string]map[Conn]struct{}
	unsubscribe func()
}

// New wires a hub to its store and backplane and subscribes for fan-out.
func New(store storage.Store, backplane Backplane) (*Hub, error) {
	if store == nil {
		return nil, errors.New("notification store is required")
	}
	if backplane == nil {
		return nil, errors.New("backplane is required")
	}
	h := &Hub{
		store:     store,
		backplane: backplane,
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     id.NewID,
		conns:     make(map[string]map[Conn]struct{}),
	}
	unsubscribe, err := backplane.Subscribe(h.fanOut)
	if err != nil {
		return nil, fmt.Errorf("subscribe backplane: %w", err)
	}
	h.unsubscribe = unsubscribe
	return h, nil
}

// WithClock overrides the hub clock.
func (h *Hub) WithClock(clock func() time.Time) *Hub {
	if clock != nil {
		h.clock = clock
	}
	return h
}

// Close detaches the hub from the backplane.
func (h *Hub) Close() {
	if h == nil || h.unsubscribe == nil {
		return
	}
	h.unsubscribe()
}

// Attach registers a connection for a principal and greets it with the
// current unread count.
func (h *Hub) Attach(ctx context.Context, principalID string, conn Conn) error {
	if h == nil || h.store == nil {
		return errors.New("hub is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return errors.New("principal id is required")
	}
	if conn == nil {
		return errors.New("connection is required")
	}

	unread, err := h.store.CountUnread(ctx, principalID)
	if err != nil {
		return fmt.Errorf("count unread: %w", err)
	}

	h.mu.Lock()
	set, ok := h.conns[principalID]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[principalID] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	if err := conn.Send(Frame{Type: FrameHello, Unread: unread}); err != nil {
		h.Detach(principalID, conn)
		return fmt.Errorf("send hello: %w", err)
	}
	return nil
}

// Detach removes a connection. Detaching twice is harmless.
func (h *Hub) Detach(principalID string, conn Conn) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.conns[principalID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, principalID)
		}
	}
	h.mu.Unlock()
}

// Publish persists a notification and hands it to the backplane. The store
// assigns the per-recipient monotonic timestamp; delivery happens wherever
// the recipient has live connections.
func (h *Hub) Publish(ctx context.Context, notification domain.Notification) (domain.Notification, error) {
	if h == nil || h.store == nil {
		return domain.Notification{}, errors.New("hub is not configured")
	}
	if err := notification.Validate(); err != nil {
		return domain.Notification{}, err
	}
	if notification.ID == "" {
		notificationID, err := h.newID()
		if err != nil {
			return domain.Notification{}, fmt.Errorf("new notification id: %w", err)
		}
		notification.ID = notificationID
	}

	stored, err := h.store.PutNotification(ctx, notification, h.clock().UTC())
	if err != nil {
		return domain.Notification{}, fmt.Errorf("store notification: %w", err)
	}
	if err := h.backplane.Publish(ctx, Envelope{Notification: stored}); err != nil {
		// The row is durable; the recipient sees it on the next list.
		log.Printf("notification backplane publish failed: %v", err)
	}
	return stored, nil
}

// Emit is the domain-event entry point: it builds a notification of the
// given kind and publishes it.
func (h *Hub) Emit(ctx context.Context, kind domain.Kind, recipientID, payloadJSON string) (domain.Notification, error) {
	return h.Publish(ctx, domain.Notification{
		RecipientID: recipientID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
	})
}

// MarkRead acknowledges a notification for a principal. Reading implies
// delivery and repeated calls are no-ops.
func (h *Hub) MarkRead(ctx context.Context, principalID, notificationID string) (domain.Notification, error) {
	if h == nil || h.store == nil {
		return domain.Notification{}, errors.New("hub is not configured")
	}
	return h.store.MarkNotificationRead(ctx, principalID, notificationID, h.clock().UTC())
}

// List returns a principal's notifications oldest first.
func (h *Hub) List(ctx context.Context, principalID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if h == nil || h.store == nil {
		return nil, errors.New("hub is not configured")
	}
	return h.store.ListNotifications(ctx, principalID, unreadOnly, limit)
}

// fanOut delivers one envelope to the local connections of its recipient.
// Sends are best-effort: a dead connection never blocks the others, and the
// row stays unread until a client acknowledges it.
func (h *Hub) fanOut(envelope Envelope) {
	notification := envelope.Notification

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[notification.RecipientID]))
	for conn := range h.conns[notification.RecipientID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := false
	for _, conn := range targets {
		if err := conn.Send(Frame{Type: FrameNotification, Notification: &notification}); err != nil {
			log.Printf("notification send failed for %s: %v", notification.ID, err)
			continue
		}
		delivered = true
	}
	if delivered {
		if err := h.store.MarkNotificationDelivered(context.Background(), notification.RecipientID, notification.ID, h.clock().UTC()); err != nil {
			log.Printf("mark notification %s delivered: %v", notification.ID, err)
		}
	}
}
