// Package domain defines the notification model shared by the hub, the
// storage layer, and the websocket transport.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Kind classifies a notification for client-side rendering.
type Kind string

const (
	KindMembershipExpiring Kind = "membership_expiring"
	KindPaymentReceived    Kind = "payment_received"
	KindAttendanceRecorded Kind = "attendance_recorded"
	KindCommunityReply     Kind = "community_reply"
	KindSystem             Kind = "system"
)

var (
	// ErrRecipientRequired indicates recipient identity is required.
	ErrRecipientRequired = errors.New("notification recipient is required")
	// ErrInvalidKind indicates an unknown notification kind.
	ErrInvalidKind = errors.New("notification kind is not valid")
)

// ValidKind reports whether the kind is one of the known classifications.
func ValidKind(k Kind) bool {
	switch k {
	case KindMembershipExpiring, KindPaymentReceived, KindAttendanceRecorded, KindCommunityReply, KindSystem:
		return true
	}
	return false
}

// Notification captures one recipient-targeted notification item. CreatedAt
// is assigned by the store and is strictly monotonic per recipient, so it
// doubles as the delivery order.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"-"`
	Kind        Kind       `json:"kind"`
	PayloadJSON string     `json:"payload,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Validate checks the fields a producer must supply.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return ErrRecipientRequired
	}
	if !ValidKind(n.Kind) {
		return ErrInvalidKind
	}
	return nil
}

// Read reports whether the notification was acknowledged.
func (n Notification) Read() bool {
	return n.ReadAt != nil
}
