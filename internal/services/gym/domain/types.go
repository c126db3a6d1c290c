// Package domain holds the gym membership records and the operations that
// feed the notification hub.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrMemberNameRequired is returned when enrolling without a name.
	ErrMemberNameRequired = errors.New("member name is required")
	// ErrPrincipalRequired is returned when an operation is missing its
	// acting or owning principal.
	ErrPrincipalRequired = errors.New("principal id is required")
	// ErrBodyRequired is returned for empty community post bodies.
	ErrBodyRequired = errors.New("post body is required")
	// ErrAmountInvalid is returned for non-positive purchase amounts.
	ErrAmountInvalid = errors.New("purchase amount must be positive")
	// ErrExpiryRequired is returned when a membership has no expiry date.
	ErrExpiryRequired = errors.New("membership expiry is required")
)

// Member is one gym member account, linked to its auth principal.
type Member struct {
	ID                  string     `json:"id"`
	PrincipalID         string     `json:"principal_id"`
	Name                string     `json:"name"`
	MembershipExpiresAt time.Time  `json:"membership_expires_at"`
	ExpiryNoticedAt     *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
}

// MemberPrincipal returns the principal that owns the member account.
func (m Member) MemberPrincipal() string { return m.PrincipalID }

// AttendanceRecord is one gym check-in.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	PrincipalID string    `json:"-"`
	Location    string    `json:"location,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// MemberPrincipal returns the principal the check-in belongs to.
func (a AttendanceRecord) MemberPrincipal() string { return a.PrincipalID }

// Purchase is one paid item or plan renewal.
type Purchase struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	PrincipalID string    `json:"-"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// MemberPrincipal returns the principal the purchase belongs to.
func (p Purchase) MemberPrincipal() string { return p.PrincipalID }

// CommunityPost is a message on the member board. Replies carry the id of
// the post they answer.
type CommunityPost struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Author returns the principal that wrote the post.
func (p CommunityPost) Author() string { return p.AuthorID }

// EnrollInput describes a new member account.
type EnrollInput struct {
	PrincipalID         string
	Name                string
	MembershipExpiresAt time.Time
}

// Validate checks enrollment input.
func (in EnrollInput) Validate() error {
	if strings.TrimSpace(in.PrincipalID) == "" {
		return ErrPrincipalRequired
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrMemberNameRequired
	}
	if in.MembershipExpiresAt.IsZero() {
		return ErrExpiryRequired
	}
	return nil
}
