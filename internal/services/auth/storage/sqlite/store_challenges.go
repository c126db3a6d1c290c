package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
)

// PutChallenge inserts one live ceremony nonce.
func (s *Store) PutChallenge(ctx context.Context, record storage.ChallengeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.Challenge) == "" {
		return fmt.Errorf("challenge is required")
	}
	if record.Purpose != storage.PurposeRegistration && record.Purpose != storage.PurposeAssertion {
		return fmt.Errorf("unknown challenge purpose %q", record.Purpose)
	}
	if strings.TrimSpace(record.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (challenge, purpose, principal_hint, session_json, issued_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.Challenge,
		record.Purpose,
		record.PrincipalHint,
		record.SessionJSON,
		toMillis(record.IssuedAt),
		toMillis(record.ExpiresAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// TakeChallenge consumes a live challenge exactly once. The conditional
// delete returns the row, so two concurrent callers cannot both succeed, and
// expiry is part of the predicate so consumption never needs a prior sweep.
func (s *Store) TakeChallenge(ctx context.Context, principalHint, purpose, challenge string, now time.Time) (storage.ChallengeRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChallengeRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChallengeRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge) == "" {
		return storage.ChallengeRecord{}, fmt.Errorf("challenge is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM challenges
WHERE challenge = ? AND purpose = ? AND principal_hint = ? AND expires_at > ?
RETURNING challenge, purpose, principal_hint, session_json, issued_at, expires_at
`,
		challenge,
		purpose,
		principalHint,
		toMillis(now),
	)

	var record storage.ChallengeRecord
	var issuedAt, expiresAt int64
	if err := row.Scan(
		&record.Challenge,
		&record.Purpose,
		&record.PrincipalHint,
		&record.SessionJSON,
		&issuedAt,
		&expiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChallengeRecord{}, storage.ErrNotFound
		}
		if isBusyError(err) {
			return storage.ChallengeRecord{}, storage.ErrBusy
		}
		return storage.ChallengeRecord{}, fmt.Errorf("take challenge: %w", err)
	}
	record.IssuedAt = fromMillis(issuedAt)
	record.ExpiresAt = fromMillis(expiresAt)
	return record, nil
}

// DeleteExpiredChallenges reaps stale nonces. Consumption does not depend on
// this running; it only keeps the table small.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM challenges WHERE expires_at <= ?", toMillis(now)); err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
