package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/platform/id"
	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims are the validated contents of an access token.
type Claims struct {
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	JWTID       string
}

// Pair bundles a freshly minted access and refresh token.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
}

// Service mints, verifies, and rotates session tokens. Refresh tokens
// are backed by store rows so revocation survives restarts.
type Service struct {
	cfg    Config
	tokens storage.RefreshTokenStore
	audits storage.AuditStore
	clock  func() time.Time
	newID  func() (string, error)
}

// NewService wires a token service around a refresh token store.
func NewService(cfg Config, tokens storage.RefreshTokenStore, audits storage.AuditStore) (*Service, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretBytes)
	}
	if tokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		tokens: tokens,
		audits: audits,
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  id.NewID,
	}, nil
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Issue mints a new access and refresh token pair for a principal and
// records the refresh token so it can be rotated or revoked later.
func (s *Service) Issue(ctx context.Context, principalID string) (Pair, error) {
	if s == nil || s.tokens == nil {
		return Pair{}, errors.New("token service is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return Pair{}, errors.New("principal id is required")
	}

	now := s.clock().UTC()
	accessJTI, err := s.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("new access jti: %w", err)
	}
	refreshJTI, err := s.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("new refresh jti: %w", err)
	}

	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access, err := s.sign(principalID, typeAccess, accessJTI, now, accessExp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.sign(principalID, typeRefresh, refreshJTI, now, refreshExp)
	if err != nil {
		return Pair{}, err
	}

	record := storage.RefreshTokenRecord{
		JTI:         refreshJTI,
		PrincipalID: principalID,
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}
	if err := s.tokens.PutRefreshToken(ctx, record); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(tokenString string) (Claims, error) {
	parsed, err := s.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if parsed.TokenType != typeAccess {
		return Claims{}, apperrors.New(apperrors.CodeInvalidToken, "token is not an access token")
	}
	return Claims{
		PrincipalID: parsed.Subject,
		IssuedAt:    parsed.IssuedAt.Time.UTC(),
		ExpiresAt:   parsed.ExpiresAt.Time.UTC(),
		JWTID:       parsed.ID,
	}, nil
}

// Refresh rotates a refresh token into a new token pair. Presenting a
// refresh token whose jti was already rotated revokes every live token
// for the principal, since reuse means the chain leaked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	if s == nil || s.tokens == nil {
		return Pair{}, errors.New("token service is not configured")
	}
	parsed, err := s.parse(refreshToken)
	if err != nil {
		return Pair{}, err
	}
	if parsed.TokenType != typeRefresh {
		return Pair{}, apperrors.New(apperrors.CodeInvalidToken, "token is not a refresh token")
	}

	now := s.clock().UTC()
	record, err := s.tokens.GetRefreshToken(ctx, parsed.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Pair{}, apperrors.New(apperrors.CodeInvalidToken, "refresh token is unknown")
		}
		return Pair{}, fmt.Errorf("get refresh token: %w", err)
	}
	if record.RevokedAt != nil {
		return Pair{}, s.compromised(ctx, record.PrincipalID, parsed.ID, now)
	}
	if !record.ExpiresAt.After(now) {
		return Pair{}, apperrors.New(apperrors.CodeTokenExpired, "refresh token is expired")
	}

	principalID := record.PrincipalID
	accessJTI, err := s.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("new access jti: %w", err)
	}
	refreshJTI, err := s.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("new refresh jti: %w", err)
	}

	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	next := storage.RefreshTokenRecord{
		JTI:         refreshJTI,
		PrincipalID: principalID,
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}
	if err := s.tokens.RotateRefreshToken(ctx, parsed.ID, next, now); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return Pair{}, s.compromised(ctx, principalID, parsed.ID, now)
		}
		return Pair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, err := s.sign(principalID, typeAccess, accessJTI, now, accessExp)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.sign(principalID, typeRefresh, refreshJTI, now, refreshExp)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Revoke invalidates a refresh token. Revoking an already revoked or
// unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if s == nil || s.tokens == nil {
		return errors.New("token service is not configured")
	}
	parsed, err := s.parse(refreshToken)
	if err != nil {
		return err
	}
	if parsed.TokenType != typeRefresh {
		return apperrors.New(apperrors.CodeInvalidToken, "token is not a refresh token")
	}
	if err := s.tokens.RevokeRefreshToken(ctx, parsed.ID, s.clock().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll invalidates every live refresh token for a principal.
func (s *Service) RevokeAll(ctx context.Context, principalID string) error {
	if s == nil || s.tokens == nil {
		return errors.New("token service is not configured")
	}
	if err := s.tokens.RevokeRefreshChain(ctx, principalID, s.clock().UTC()); err != nil {
		return fmt.Errorf("revoke refresh chain: %w", err)
	}
	return nil
}

// compromised handles refresh token reuse: kill the whole chain and
// leave an audit trail before reporting the token revoked.
func (s *Service) compromised(ctx context.Context, principalID, jti string, now time.Time) error {
	if err := s.tokens.RevokeRefreshChain(ctx, principalID, now); err != nil {
		return fmt.Errorf("revoke refresh chain: %w", err)
	}
	if s.audits != nil {
		auditID, err := s.newID()
		if err == nil {
			_ = s.audits.PutAuditRecord(ctx, storage.AuditRecord{
				ID:          auditID,
				PrincipalID: principalID,
				Kind:        "refresh_token_reuse",
				Detail:      fmt.Sprintf("rotated refresh token %s presented again", jti),
				CreatedAt:   now,
			})
		}
	}
	return apperrors.New(apperrors.CodeTokenRevoked, "refresh token was already used")
}

func (s *Service) sign(principalID, tokenType, jti string, issuedAt, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   principalID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.GetSigningMethod(signingMethod), claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *Service) parse(tokenString string) (sessionClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return sessionClaims{}, apperrors.New(apperrors.CodeAuthRequired, "token is required")
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(token *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return s.clock().UTC() }),
	)
	if err != nil {
		return sessionClaims{}, mapJWTError(err)
	}
	if parsed.Subject == "" || parsed.ID == "" {
		return sessionClaims{}, apperrors.New(apperrors.CodeInvalidToken, "token claims are incomplete")
	}
	return parsed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeInvalidToken, "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeInvalidToken, "token alg is invalid")
	}
	return apperrors.New(apperrors.CodeInvalidToken, "token is invalid")
}
