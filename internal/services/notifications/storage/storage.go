// Package storage defines the persistence boundary for notifications.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ferrogym/ferrogym/internal/services/notifications/domain"
)

var (
	// ErrNotFound indicates a notification record was not found.
	ErrNotFound = errors.New("notification not found")
	// ErrConflict indicates a write conflicted with an existing row.
	ErrConflict = errors.New("notification conflict")
	// ErrBusy indicates the database was locked by a concurrent writer.
	ErrBusy = errors.New("notification storage busy")
)

// Store is the persistence surface the hub wires up.
//
// PutNotification assigns CreatedAt inside its own transaction and returns
// the stored notification: timestamps are strictly monotonic per recipient
// even when producers race or the clock stalls.
type Store interface {
	PutNotification(ctx context.Context, notification domain.Notification, now time.Time) (domain.Notification, error)
	GetNotification(ctx context.Context, recipientID, notificationID string) (domain.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkNotificationDelivered(ctx context.Context, recipientID, notificationID string, deliveredAt time.Time) error
	MarkNotificationRead(ctx context.Context, recipientID, notificationID string, readAt time.Time) (domain.Notification, error)
}
