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

// PutCredential inserts one WebAuthn credential row. Credential ids are
// unique across all principals.
func (s *Store) PutCredential(ctx context.Context, record storage.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(record.PrincipalID) == "" {
		return fmt.Errorf("principal id is required")
	}
	if strings.TrimSpace(record.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	lastUsed := sql.NullInt64{}
	if record.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*record.LastUsedAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (credential_id, principal_id, credential_json, counter, transports, label, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.CredentialID,
		record.PrincipalID,
		record.CredentialJSON,
		int64(record.Counter),
		strings.Join(record.Transports, ","),
		record.Label,
		toMillis(record.CreatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored credential by id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CredentialRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.CredentialRecord{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, principal_id, credential_json, counter, transports, label, created_at, last_used_at
FROM credentials WHERE credential_id = ?
`, credentialID)
	return scanCredential(row.Scan)
}

// ListCredentials returns a principal's credentials ordered by creation time.
func (s *Store) ListCredentials(ctx context.Context, principalID string) ([]storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, principal_id, credential_json, counter, transports, label, created_at, last_used_at
FROM credentials WHERE principal_id = ?
ORDER BY created_at ASC, credential_id ASC
`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []storage.CredentialRecord
	for rows.Next() {
		record, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return records, nil
}

// UpdateCredentialCounter stores a new signature counter. The update is a
// single conditional statement so concurrent assertions cannot interleave a
// regression past the check.
func (s *Store) UpdateCredentialCounter(ctx context.Context, credentialID string, newCounter uint32, credentialJSON string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET counter = ?, credential_json = CASE WHEN ? != '' THEN ? ELSE credential_json END
WHERE credential_id = ? AND (counter = 0 OR counter <= ?)
`,
		int64(newCounter),
		credentialJSON,
		credentialJSON,
		credentialID,
		int64(newCounter),
	)
	if err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("update credential counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential counter rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetCredential(ctx, credentialID); errors.Is(getErr, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrCounterRegression
	}
	return nil
}

// TouchCredentialUsed records the last successful assertion instant.
func (s *Store) TouchCredentialUsed(ctx context.Context, credentialID string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"UPDATE credentials SET last_used_at = ? WHERE credential_id = ?",
		toMillis(usedAt), credentialID)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

// RevokeCredential removes a credential binding. Subsequent assertions with
// the same credential id fail as unknown.
func (s *Store) RevokeCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM credentials WHERE credential_id = ?", credentialID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanCredential(scan scanner) (storage.CredentialRecord, error) {
	var record storage.CredentialRecord
	var counter int64
	var transports string
	var createdAt int64
	var lastUsed sql.NullInt64
	if err := scan(
		&record.CredentialID,
		&record.PrincipalID,
		&record.CredentialJSON,
		&counter,
		&transports,
		&record.Label,
		&createdAt,
		&lastUsed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CredentialRecord{}, storage.ErrNotFound
		}
		return storage.CredentialRecord{}, fmt.Errorf("scan credential: %w", err)
	}
	record.Counter = uint32(counter)
	if transports != "" {
		record.Transports = strings.Split(transports, ",")
	}
	record.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		record.LastUsedAt = &value
	}
	return record, nil
}
