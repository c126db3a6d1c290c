// Package storage defines persistence boundaries for the auth service.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write that violates uniqueness constraints.
	ErrConflict = errors.New("record conflict")
	// ErrBusy indicates the store could not serve the write under contention.
	ErrBusy = errors.New("storage busy")
	// ErrCounterRegression indicates an authenticator counter moving backward.
	ErrCounterRegression = errors.New("credential counter regression")
)

// Challenge purposes bind a nonce to exactly one ceremony kind.
const (
	PurposeRegistration = "registration"
	PurposeAssertion    = "assertion"
)

// PrincipalRecord stores one human identity row.
type PrincipalRecord struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

// CredentialRecord stores one WebAuthn authenticator binding.
//
// CredentialJSON carries the full library credential; Counter is duplicated
// into its own column so monotonicity is enforced by a conditional update
// rather than read-modify-write.
type CredentialRecord struct {
	CredentialID   string
	PrincipalID    string
	CredentialJSON string
	Counter        uint32
	Transports     []string
	Label          string
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// ChallengeRecord stores one live ceremony nonce with its session state.
type ChallengeRecord struct {
	Challenge     string
	Purpose       string
	PrincipalHint string
	SessionJSON   string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// RefreshTokenRecord tracks one refresh token by jti so it can be revoked.
type RefreshTokenRecord struct {
	JTI         string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	ReplacedBy  string
}

// AuditRecord stores one security audit entry.
type AuditRecord struct {
	ID          string
	PrincipalID string
	Kind        string
	Detail      string
	CreatedAt   time.Time
}

// PrincipalStore persists human identities.
type PrincipalStore interface {
	PutPrincipal(ctx context.Context, record PrincipalRecord) error
	GetPrincipal(ctx context.Context, principalID string) (PrincipalRecord, error)
	GetPrincipalByEmail(ctx context.Context, email string) (PrincipalRecord, error)
	SetPrincipalActive(ctx context.Context, principalID string, active bool) error
	SetPrincipalRole(ctx context.Context, principalID string, role string) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, record CredentialRecord) error
	GetCredential(ctx context.Context, credentialID string) (CredentialRecord, error)
	ListCredentials(ctx context.Context, principalID string) ([]CredentialRecord, error)
	// UpdateCredentialCounter fails with ErrCounterRegression when newCounter
	// is below the stored value and the stored value is positive.
	UpdateCredentialCounter(ctx context.Context, credentialID string, newCounter uint32, credentialJSON string) error
	TouchCredentialUsed(ctx context.Context, credentialID string, usedAt time.Time) error
	RevokeCredential(ctx context.Context, credentialID string) error
}

// ChallengeStore persists one-shot ceremony nonces.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, record ChallengeRecord) error
	// TakeChallenge atomically fetches and deletes a live challenge. It
	// returns ErrNotFound when the challenge is absent, already consumed,
	// or expired; at most one concurrent caller can win.
	TakeChallenge(ctx context.Context, principalHint, purpose, challenge string, now time.Time) (ChallengeRecord, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// RefreshTokenStore tracks refresh token lifecycles by jti.
type RefreshTokenStore interface {
	PutRefreshToken(ctx context.Context, record RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, jti string) (RefreshTokenRecord, error)
	// RotateRefreshToken revokes oldJTI and inserts next in one transaction.
	// It returns ErrConflict when oldJTI was already rotated or revoked.
	RotateRefreshToken(ctx context.Context, oldJTI string, next RefreshTokenRecord, revokedAt time.Time) error
	RevokeRefreshToken(ctx context.Context, jti string, revokedAt time.Time) error
	// RevokeRefreshChain revokes every live refresh token for a principal.
	RevokeRefreshChain(ctx context.Context, principalID string, revokedAt time.Time) error
}

// AuditStore records security-relevant events.
type AuditStore interface {
	PutAuditRecord(ctx context.Context, record AuditRecord) error
}

// AuthStore aggregates the persistence surface the auth service wires up.
type AuthStore interface {
	PrincipalStore
	CredentialStore
	ChallengeStore
	RefreshTokenStore
	AuditStore
}
