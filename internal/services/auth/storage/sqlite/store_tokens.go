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

// PutRefreshToken inserts one refresh token row keyed by jti.
func (s *Store) PutRefreshToken(ctx context.Context, record storage.RefreshTokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.JTI) == "" {
		return fmt.Errorf("jti is required")
	}
	if strings.TrimSpace(record.PrincipalID) == "" {
		return fmt.Errorf("principal id is required")
	}
	return putRefreshTokenExec(ctx, s.sqlDB, record)
}

// GetRefreshToken fetches a refresh token row by jti.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (storage.RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshTokenRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(jti) == "" {
		return storage.RefreshTokenRecord{}, fmt.Errorf("jti is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT jti, principal_id, issued_at, expires_at, revoked_at, replaced_by
FROM refresh_tokens WHERE jti = ?
`, jti)
	return scanRefreshToken(row.Scan)
}

// RotateRefreshToken revokes oldJTI and inserts the successor in a single
// transaction. Revocation is conditional on the old token still being live,
// so a concurrent rotation of the same jti leaves exactly one winner.
func (s *Store) RotateRefreshToken(ctx context.Context, oldJTI string, next storage.RefreshTokenRecord, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(oldJTI) == "" {
		return fmt.Errorf("old jti is required")
	}
	if strings.TrimSpace(next.JTI) == "" {
		return fmt.Errorf("next jti is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ?, replaced_by = ?
WHERE jti = ? AND revoked_at IS NULL
`, toMillis(revokedAt), next.JTI, oldJTI)
	if err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotation rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflict
	}

	if err := putRefreshTokenExec(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeRefreshToken marks one refresh token revoked. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("jti is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE jti = ? AND revoked_at IS NULL",
		toMillis(revokedAt), jti)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeRefreshChain revokes every live refresh token for a principal.
// Reuse of a rotated token is treated as compromise of the whole chain.
func (s *Store) RevokeRefreshChain(ctx context.Context, principalID string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("principal id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE principal_id = ? AND revoked_at IS NULL",
		toMillis(revokedAt), principalID)
	if err != nil {
		return fmt.Errorf("revoke refresh chain: %w", err)
	}
	return nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRefreshTokenExec(ctx context.Context, execer sqlExecer, record storage.RefreshTokenRecord) error {
	revokedAt := sql.NullInt64{}
	if record.RevokedAt != nil {
		revokedAt = sql.NullInt64{Int64: toMillis(*record.RevokedAt), Valid: true}
	}
	_, err := execer.ExecContext(ctx, `
INSERT INTO refresh_tokens (jti, principal_id, issued_at, expires_at, revoked_at, replaced_by)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.JTI,
		record.PrincipalID,
		toMillis(record.IssuedAt),
		toMillis(record.ExpiresAt),
		revokedAt,
		record.ReplacedBy,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

func scanRefreshToken(scan scanner) (storage.RefreshTokenRecord, error) {
	var record storage.RefreshTokenRecord
	var issuedAt, expiresAt int64
	var revokedAt sql.NullInt64
	if err := scan(
		&record.JTI,
		&record.PrincipalID,
		&issuedAt,
		&expiresAt,
		&revokedAt,
		&record.ReplacedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshTokenRecord{}, storage.ErrNotFound
		}
		return storage.RefreshTokenRecord{}, fmt.Errorf("scan refresh token: %w", err)
	}
	record.IssuedAt = fromMillis(issuedAt)
	record.ExpiresAt = fromMillis(expiresAt)
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		record.RevokedAt = &value
	}
	return record, nil
}
