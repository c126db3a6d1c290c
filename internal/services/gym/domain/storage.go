package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("gym record not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("gym record conflict")
	// ErrBusy indicates transient lock contention.
	ErrBusy = errors.New("gym storage busy")
)

// Store persists gym membership records.
type Store interface {
	PutMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, memberID string) (Member, error)
	GetMemberByPrincipal(ctx context.Context, principalID string) (Member, error)
	// ExtendMembership moves the expiry forward and clears any pending
	// expiry notice.
	ExtendMembership(ctx context.Context, memberID string, until time.Time) (Member, error)
	// ListMembersExpiring returns members whose membership lapses inside
	// [from, to] and who have not been warned yet.
	ListMembersExpiring(ctx context.Context, from, to time.Time) ([]Member, error)
	SetMemberExpiryNoticed(ctx context.Context, memberID string, at time.Time) error

	PutAttendance(ctx context.Context, record AttendanceRecord) error
	ListAttendance(ctx context.Context, memberID string, limit int) ([]AttendanceRecord, error)

	PutPurchase(ctx context.Context, purchase Purchase) error
	ListPurchases(ctx context.Context, memberID string, limit int) ([]Purchase, error)

	PutPost(ctx context.Context, post CommunityPost) error
	GetPost(ctx context.Context, postID string) (CommunityPost, error)
	ListReplies(ctx context.Context, postID string) ([]CommunityPost, error)
}
